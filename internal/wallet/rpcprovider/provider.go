// Package rpcprovider bridges the wallet.Provider interface to an external
// wallet agent speaking JSON-RPC (HTTP, WebSocket or IPC).
//
// Wallet agents do not push account or chain changes over plain JSON-RPC, so
// the provider polls eth_accounts and eth_chainId and emits a notification
// whenever either differs from the last observation.
package rpcprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"guardian/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultPollInterval = time.Second

// Provider implements wallet.Provider over a go-ethereum rpc.Client.
type Provider struct {
	wallet.Listeners

	client   *rpc.Client
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	accounts []common.Address
	chainID  uint64
	observed bool
}

type Option func(*Provider)

func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Dial connects to the wallet agent at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet agent: %w", err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client *rpc.Client, opts ...Option) *Provider {
	p := &Provider{client: client, interval: defaultPollInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// Start begins change polling. Calling Start twice is a no-op.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.poll(ctx)
}

// Close stops polling and closes the client.
func (p *Provider) Close() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	p.client.Close()
}

func (p *Provider) poll(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Observe(ctx)
		}
	}
}

// Observe takes one snapshot and emits notifications for anything that
// changed since the previous snapshot. The first snapshot is a baseline and
// emits nothing.
func (p *Provider) Observe(ctx context.Context) {
	accounts, err := p.fetchAccounts(ctx)
	if err != nil {
		p.logger.DebugContext(ctx, "wallet poll: accounts unavailable", "error", err)
		return
	}
	chainID, err := p.fetchChainID(ctx)
	if err != nil {
		p.logger.DebugContext(ctx, "wallet poll: chain id unavailable", "error", err)
		return
	}

	p.mu.Lock()
	first := !p.observed
	accountsChanged := !first && !slices.Equal(accounts, p.accounts)
	chainChanged := !first && chainID != p.chainID
	p.accounts, p.chainID, p.observed = accounts, chainID, true
	p.mu.Unlock()

	if chainChanged {
		p.Emit(wallet.Notification{Kind: wallet.NotifyChainChanged, ChainID: chainID})
	}
	if accountsChanged {
		p.Emit(wallet.Notification{Kind: wallet.NotifyAccountsChanged, Accounts: accounts})
	}
}

func (p *Provider) fetchAccounts(ctx context.Context) ([]common.Address, error) {
	raw, err := p.Request(ctx, wallet.MethodAccounts)
	if err != nil {
		return nil, err
	}
	return wallet.DecodeAccounts(raw)
}

func (p *Provider) fetchChainID(ctx context.Context) (uint64, error) {
	raw, err := p.Request(ctx, wallet.MethodChainID)
	if err != nil {
		return 0, err
	}
	return wallet.DecodeQuantity(raw)
}
