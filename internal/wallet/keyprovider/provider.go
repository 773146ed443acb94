// Package keyprovider is a wallet.Provider backed by a local private key and
// a node connection. It is meant for CLI use and development chains; the key
// never leaves the process.
package keyprovider

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"guardian/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the node surface the provider needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Dialer opens a Backend for an RPC URL, used by wallet_addEthereumChain.
type Dialer func(ctx context.Context, url string) (Backend, error)

// Provider implements wallet.Provider.
type Provider struct {
	wallet.Listeners

	key     *ecdsa.PrivateKey
	address common.Address
	dial    Dialer

	mu       sync.Mutex
	chainID  uint64
	backends map[uint64]Backend
}

type Option func(*Provider)

// WithDialer overrides how added chains are dialed.
func WithDialer(d Dialer) Option {
	return func(p *Provider) {
		p.dial = d
	}
}

// WithChain registers an additional known chain.
func WithChain(chainID uint64, b Backend) Option {
	return func(p *Provider) {
		p.backends[chainID] = b
	}
}

// Dial parses a hex private key and connects to rpcURL.
func Dial(ctx context.Context, hexKey, rpcURL string, opts ...Option) (*Provider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	backend, err := dialEthclient(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	return New(key, chainID.Uint64(), backend, opts...), nil
}

// New builds a provider on an already connected backend.
func New(key *ecdsa.PrivateKey, chainID uint64, backend Backend, opts ...Option) *Provider {
	p := &Provider{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		dial:     dialEthclient,
		chainID:  chainID,
		backends: map[uint64]Backend{chainID: backend},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Address returns the key's address.
func (p *Provider) Address() common.Address {
	return p.address
}

func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	result, err := p.dispatch(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (p *Provider) dispatch(ctx context.Context, method string, params []any) (any, error) {
	switch method {
	case wallet.MethodRequestAccounts, wallet.MethodAccounts:
		return []string{p.address.Hex()}, nil
	case wallet.MethodChainID:
		p.mu.Lock()
		defer p.mu.Unlock()
		return hexutil.EncodeUint64(p.chainID), nil
	case wallet.MethodBlockNumber:
		b, _ := p.current()
		n, err := b.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		return hexutil.EncodeUint64(n), nil
	case wallet.MethodSendTransaction:
		var req wallet.TxRequest
		if err := decodeParam(params, &req); err != nil {
			return nil, err
		}
		hash, err := p.send(ctx, req)
		if err != nil {
			return nil, err
		}
		return hash.Hex(), nil
	case wallet.MethodSwitchChain:
		var req struct {
			ChainID hexutil.Uint64 `json:"chainId"`
		}
		if err := decodeParam(params, &req); err != nil {
			return nil, err
		}
		return nil, p.switchTo(uint64(req.ChainID))
	case wallet.MethodAddChain:
		var req wallet.AddChainParams
		if err := decodeParam(params, &req); err != nil {
			return nil, err
		}
		return nil, p.add(ctx, req)
	default:
		return nil, &wallet.RPCError{Code: wallet.CodeUnsupportedMethod, Message: "unsupported method: " + method}
	}
}

func (p *Provider) current() (Backend, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backends[p.chainID], p.chainID
}

func (p *Provider) send(ctx context.Context, req wallet.TxRequest) (common.Hash, error) {
	if req.From != (common.Address{}) && req.From != p.address {
		return common.Hash{}, &wallet.RPCError{Code: wallet.CodeUnauthorized, Message: "from address is not controlled by this wallet"}
	}
	backend, chainID := p.current()

	nonce, err := backend.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee(head), big.NewInt(2)))

	value := new(big.Int)
	if req.Value != nil {
		value = req.Value.ToInt()
	}
	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       uint64(req.Gas),
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(tx.ChainId()), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

func baseFee(h *types.Header) *big.Int {
	if h == nil || h.BaseFee == nil {
		return new(big.Int)
	}
	return h.BaseFee
}

func (p *Provider) switchTo(chainID uint64) error {
	p.mu.Lock()
	if _, ok := p.backends[chainID]; !ok {
		p.mu.Unlock()
		return &wallet.RPCError{Code: wallet.CodeUnrecognizedChain, Message: fmt.Sprintf("Unrecognized chain ID %d.", chainID)}
	}
	changed := p.chainID != chainID
	p.chainID = chainID
	p.mu.Unlock()
	if changed {
		p.Emit(wallet.Notification{Kind: wallet.NotifyChainChanged, ChainID: chainID})
	}
	return nil
}

func (p *Provider) add(ctx context.Context, req wallet.AddChainParams) error {
	want, err := hexutil.DecodeUint64(req.ChainID)
	if err != nil {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: "invalid chainId"}
	}
	if len(req.RPCURLs) == 0 {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: "rpcUrls is required"}
	}
	backend, err := p.dial(ctx, req.RPCURLs[0])
	if err != nil {
		return err
	}
	got, err := backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if got.Uint64() != want {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: fmt.Sprintf("rpc endpoint serves chain %d, not %d", got.Uint64(), want)}
	}
	p.mu.Lock()
	p.backends[want] = backend
	p.mu.Unlock()
	return nil
}

func decodeParam(params []any, v any) error {
	if len(params) == 0 {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: "missing params"}
	}
	b, err := json.Marshal(params[0])
	if err != nil {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: err.Error()}
	}
	if err := json.Unmarshal(b, v); err != nil {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial node: %w", err)
	}
	return client, nil
}
