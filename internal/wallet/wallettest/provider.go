// Package wallettest provides a scriptable in-memory wallet provider.
package wallettest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"guardian/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Handler overrides the default behaviour for one method.
type Handler func(params []json.RawMessage) (any, error)

// SendFunc turns a submitted transaction into a hash, e.g. by mining it on a
// fake chain.
type SendFunc func(req wallet.TxRequest) (common.Hash, error)

// Provider is a fake EIP-1193 wallet. The zero value is not usable; call New.
type Provider struct {
	wallet.Listeners

	mu          sync.Mutex
	accounts    []common.Address
	chainID     uint64
	known       map[uint64]bool
	blockNumber uint64
	handlers    map[string]Handler
	failures    map[string][]error
	calls       map[string]int
	sent        []wallet.TxRequest
	onSend      SendFunc
}

// New returns a provider on chainID that will authorize accounts.
func New(chainID uint64, accounts ...common.Address) *Provider {
	return &Provider{
		accounts: accounts,
		chainID:  chainID,
		known:    map[uint64]bool{chainID: true},
		handlers: map[string]Handler{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

// Handle overrides method.
func (p *Provider) Handle(method string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = h
}

// FailNext makes the next call to method return err. Calls queue up.
func (p *Provider) FailNext(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = append(p.failures[method], err)
}

// Reject makes the next call to method fail with the user-rejected code.
func (p *Provider) Reject(method string) {
	p.FailNext(method, &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "User rejected the request."})
}

// OnSend installs the hook that handles eth_sendTransaction.
func (p *Provider) OnSend(fn SendFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSend = fn
}

// SetBlockNumber sets the eth_blockNumber result.
func (p *Provider) SetBlockNumber(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockNumber = n
}

// Forget removes chainID from the wallet's known chains.
func (p *Provider) Forget(chainID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.known, chainID)
}

// SwitchAccount changes the authorized accounts and notifies listeners.
// No accounts simulates the user disconnecting every account.
func (p *Provider) SwitchAccount(accounts ...common.Address) {
	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()
	p.Emit(wallet.Notification{Kind: wallet.NotifyAccountsChanged, Accounts: accounts})
}

// SwitchChain moves the wallet to chainID and notifies listeners.
func (p *Provider) SwitchChain(chainID uint64) {
	p.mu.Lock()
	p.chainID = chainID
	p.known[chainID] = true
	p.mu.Unlock()
	p.Emit(wallet.Notification{Kind: wallet.NotifyChainChanged, ChainID: chainID})
}

// ChainID returns the chain the provider currently reports.
func (p *Provider) ChainID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID
}

// Calls returns how many times method was requested.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Sent returns submitted transactions in order.
func (p *Provider) Sent() []wallet.TxRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]wallet.TxRequest(nil), p.sent...)
}

func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		b, err := json.Marshal(param)
		if err != nil {
			return nil, err
		}
		rawParams = append(rawParams, b)
	}

	p.mu.Lock()
	p.calls[method]++
	if queued := p.failures[method]; len(queued) > 0 {
		err := queued[0]
		p.failures[method] = queued[1:]
		p.mu.Unlock()
		return nil, err
	}
	h, overridden := p.handlers[method]
	p.mu.Unlock()

	var (
		result any
		err    error
	)
	if overridden {
		result, err = h(rawParams)
	} else {
		result, err = p.defaultHandler(method, rawParams)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (p *Provider) defaultHandler(method string, params []json.RawMessage) (any, error) {
	switch method {
	case wallet.MethodRequestAccounts, wallet.MethodAccounts:
		p.mu.Lock()
		defer p.mu.Unlock()
		out := make([]string, len(p.accounts))
		for i, a := range p.accounts {
			out[i] = a.Hex()
		}
		return out, nil
	case wallet.MethodChainID:
		p.mu.Lock()
		defer p.mu.Unlock()
		return hexutil.EncodeUint64(p.chainID), nil
	case wallet.MethodBlockNumber:
		p.mu.Lock()
		defer p.mu.Unlock()
		return hexutil.EncodeUint64(p.blockNumber), nil
	case wallet.MethodSwitchChain:
		var req struct {
			ChainID hexutil.Uint64 `json:"chainId"`
		}
		if err := decodeFirst(params, &req); err != nil {
			return nil, err
		}
		p.mu.Lock()
		known := p.known[uint64(req.ChainID)]
		p.mu.Unlock()
		if !known {
			return nil, &wallet.RPCError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID."}
		}
		p.SwitchChain(uint64(req.ChainID))
		return nil, nil
	case wallet.MethodAddChain:
		var req wallet.AddChainParams
		if err := decodeFirst(params, &req); err != nil {
			return nil, err
		}
		id, err := hexutil.DecodeUint64(req.ChainID)
		if err != nil {
			return nil, &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: err.Error()}
		}
		p.mu.Lock()
		p.known[id] = true
		p.mu.Unlock()
		return nil, nil
	case wallet.MethodSendTransaction:
		var req wallet.TxRequest
		if err := decodeFirst(params, &req); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.sent = append(p.sent, req)
		n := len(p.sent)
		hook := p.onSend
		p.mu.Unlock()
		if hook != nil {
			hash, err := hook(req)
			if err != nil {
				return nil, err
			}
			return hash.Hex(), nil
		}
		return crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", n)), req.Data).Hex(), nil
	default:
		return nil, &wallet.RPCError{Code: wallet.CodeMethodNotSupported, Message: "method not supported: " + method}
	}
}

func decodeFirst(params []json.RawMessage, v any) error {
	if len(params) == 0 {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return &wallet.RPCError{Code: wallet.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
