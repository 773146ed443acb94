package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"guardian/internal/platform/metrics"
	"guardian/pkg/attrs"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"
	"guardian/pkg/platform/audit"
	"guardian/pkg/requestcontext"

	"github.com/ethereum/go-ethereum/common"
)

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Manager owns the wallet connection for one provider instance.
type Manager struct {
	provider       Provider
	conn           *Connection
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics

	mu         sync.Mutex
	subscribed bool
	stop       func()
	onAccounts func([]common.Address)
	onChain    func(uint64)
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Manager) {
		m.auditPublisher = publisher
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithConnection shares an existing connection, e.g. with a NetworkGuard.
func WithConnection(conn *Connection) Option {
	return func(m *Manager) {
		m.conn = conn
	}
}

// NewManager constructs a Manager. provider may be nil, in which case every
// interactive call fails with ProviderUnavailable.
func NewManager(provider Provider, opts ...Option) *Manager {
	m := &Manager{provider: provider, conn: NewConnection()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connection returns the shared connection state.
func (m *Manager) Connection() *Connection {
	return m.conn
}

// Provider returns the injected provider or ProviderUnavailable.
func (m *Manager) Provider() (Provider, error) {
	if m.provider == nil {
		return nil, failure.New(failure.KindProviderUnavailable, "wallet.provider", "")
	}
	return m.provider, nil
}

// Connect asks the wallet for account access and installs the first account
// as the signer.
func (m *Manager) Connect(ctx context.Context) (Identity, error) {
	p, err := m.Provider()
	if err != nil {
		m.metrics.IncWalletConnect("unavailable")
		return Identity{}, err
	}

	raw, err := p.Request(ctx, MethodRequestAccounts)
	if err != nil {
		return Identity{}, m.requestFailed(ctx, "wallet.connect", err)
	}
	accounts, err := DecodeAccounts(raw)
	if err != nil {
		return Identity{}, m.requestFailed(ctx, "wallet.connect", err)
	}
	if len(accounts) == 0 {
		m.metrics.IncWalletConnect("rejected")
		return Identity{}, failure.New(failure.KindUserRejected, "wallet.connect", "The wallet did not share any account.")
	}

	chainID, err := m.chainID(ctx, p)
	if err != nil {
		return Identity{}, m.requestFailed(ctx, "wallet.connect", err)
	}

	m.conn.setSigner(accounts[0], chainID)
	id, _ := m.conn.Identity()
	m.metrics.IncWalletConnect("ok")
	m.logAudit(ctx, audit.EventWalletConnected,
		"address", id.Address,
		"chain_id", chainID,
	)
	return id, nil
}

// CurrentAccount returns the connected account without prompting the user.
// It prefers the held signer and falls back to eth_accounts. Returns nil when
// no account is available.
func (m *Manager) CurrentAccount(ctx context.Context) (*common.Address, error) {
	if id, ok := m.conn.Identity(); ok && id.IsSigner {
		addr := id.Address
		return &addr, nil
	}
	if m.provider == nil {
		return nil, nil
	}
	raw, err := m.provider.Request(ctx, MethodAccounts)
	if err != nil {
		return nil, Classify(err, "wallet.current_account")
	}
	accounts, err := DecodeAccounts(raw)
	if err != nil {
		return nil, Classify(err, "wallet.current_account")
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// Subscribe registers the account and chain change handlers. It may be
// called once per provider instance.
func (m *Manager) Subscribe(onAccounts func([]common.Address), onChain func(uint64)) error {
	p, err := m.Provider()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribed {
		return dErrors.New(dErrors.CodeConflict, "wallet listeners already registered for this provider")
	}
	m.subscribed = true
	m.onAccounts = onAccounts
	m.onChain = onChain
	m.stop = p.OnChange(m.handle)
	return nil
}

// Disconnect clears the local signer. Wallets have no programmatic
// disconnect, so this is a local reset; the accounts listener is told the
// account list is now empty.
func (m *Manager) Disconnect(ctx context.Context) {
	prev, had := m.conn.Identity()
	m.conn.reset()
	m.metrics.IncWalletNotification("disconnect")
	if had {
		m.logAudit(ctx, audit.EventWalletDisconnected, "address", prev.Address)
	}
	if cb := m.accountsListener(); cb != nil {
		cb(nil)
	}
}

// SendTransaction submits req through the provider from the active signer.
func (m *Manager) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	signer, _, err := m.conn.Signer()
	if err != nil {
		return common.Hash{}, err
	}
	p, err := m.Provider()
	if err != nil {
		return common.Hash{}, err
	}
	req.From = signer.Address
	raw, err := p.Request(ctx, MethodSendTransaction, req)
	if err != nil {
		return common.Hash{}, m.requestFailed(ctx, "wallet.send_transaction", err)
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return common.Hash{}, failure.Wrap(err, failure.KindNetworkError, "wallet.send_transaction", "")
	}
	if len(common.FromHex(hex)) != common.HashLength {
		return common.Hash{}, failure.Wrap(fmt.Errorf("malformed transaction hash %q", hex),
			failure.KindNetworkError, "wallet.send_transaction", "")
	}
	return common.HexToHash(hex), nil
}

// Close unregisters provider listeners.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

func (m *Manager) handle(n Notification) {
	ctx := requestcontext.EnsureRequestID(context.Background())
	switch n.Kind {
	case NotifyAccountsChanged:
		m.metrics.IncWalletNotification("accounts")
		if len(n.Accounts) == 0 {
			prev, had := m.conn.Identity()
			m.conn.reset()
			if had {
				m.logAudit(ctx, audit.EventWalletDisconnected, "address", prev.Address, "reason", "accounts_empty")
			}
		} else {
			chainID := uint64(0)
			if id, ok := m.conn.Identity(); ok {
				chainID = id.ChainID
			}
			m.conn.setSigner(n.Accounts[0], chainID)
			m.logAudit(ctx, audit.EventAccountsChanged, "address", n.Accounts[0])
		}
		if cb := m.accountsListener(); cb != nil {
			cb(n.Accounts)
		}
	case NotifyChainChanged:
		m.metrics.IncWalletNotification("chain")
		m.conn.dropSigner(n.ChainID)
		m.logAudit(ctx, audit.EventChainChanged, "chain_id", n.ChainID)
		if cb := m.chainListener(); cb != nil {
			cb(n.ChainID)
		}
	}
}

func (m *Manager) accountsListener() func([]common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onAccounts
}

func (m *Manager) chainListener() func(uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onChain
}

func (m *Manager) chainID(ctx context.Context, p Provider) (uint64, error) {
	raw, err := p.Request(ctx, MethodChainID)
	if err != nil {
		return 0, err
	}
	return DecodeQuantity(raw)
}

// requestFailed classifies err and records rejections as security events.
func (m *Manager) requestFailed(ctx context.Context, op string, err error) error {
	classified := Classify(err, op)
	kind := failure.KindOf(classified)
	switch kind {
	case failure.KindUserRejected:
		m.metrics.IncWalletConnect("rejected")
		m.logAudit(ctx, audit.EventWalletRejected, "op", op, "reason", err.Error())
	default:
		m.metrics.IncWalletConnect("error")
		if m.logger != nil {
			m.logger.WarnContext(ctx, "wallet request failed", "op", op, "kind", string(kind), "error", err)
		}
	}
	return classified
}

func (m *Manager) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	if m.logger != nil {
		m.logger.InfoContext(ctx, string(event), args...)
	}
	if m.auditPublisher == nil {
		return
	}
	e := audit.NewEvent(event, attrs.ExtractString(attributes, "address"))
	e.Reason = attrs.ExtractString(attributes, "reason")
	e.RequestID = attrs.ExtractString(attributes, "request_id")
	e.ActorID = requestcontext.Actor(ctx)
	e.Details = attrs.ToMap(attributes, "address", "reason", "request_id")
	_ = m.auditPublisher.Emit(ctx, e)
}
