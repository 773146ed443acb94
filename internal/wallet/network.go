package wallet

import (
	"context"
	"fmt"

	"guardian/internal/platform/config"
	"guardian/pkg/failure"
	"guardian/pkg/platform/audit"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NetworkState is the result of comparing the wallet chain to the required one.
type NetworkState string

const (
	NetworkCorrect   NetworkState = "correct"
	NetworkIncorrect NetworkState = "incorrect"
)

// NetworkInfo describes the chain the wallet is on.
type NetworkInfo struct {
	ChainID     uint64
	Name        string
	BlockNumber uint64
	State       NetworkState
}

// NetworkGuard checks and corrects the wallet's network.
type NetworkGuard struct {
	manager  *Manager
	required config.Network
}

// NewNetworkGuard binds a guard to a manager's provider, logger and audit
// publisher.
func NewNetworkGuard(m *Manager, required config.Network) *NetworkGuard {
	return &NetworkGuard{manager: m, required: required}
}

// Required returns the configured network.
func (g *NetworkGuard) Required() config.Network {
	return g.required
}

// ChainID reads the live chain id from the wallet.
func (g *NetworkGuard) ChainID(ctx context.Context) (uint64, error) {
	p, err := g.manager.Provider()
	if err != nil {
		return 0, err
	}
	id, err := g.manager.chainID(ctx, p)
	if err != nil {
		return 0, Classify(err, "network.chain_id")
	}
	return id, nil
}

// Check compares the live chain id to the required one.
func (g *NetworkGuard) Check(ctx context.Context) (NetworkState, uint64, error) {
	id, err := g.ChainID(ctx)
	if err != nil {
		return NetworkIncorrect, 0, err
	}
	return g.stateOf(id), id, nil
}

// Ensure fails with WrongNetwork unless the wallet is on the required chain.
func (g *NetworkGuard) Ensure(ctx context.Context) error {
	state, id, err := g.Check(ctx)
	if err != nil {
		return err
	}
	if state != NetworkCorrect {
		return g.wrongNetwork("network.ensure", id)
	}
	return nil
}

// RequestSwitch asks the wallet to move to the required chain, adding the
// chain first if the wallet does not know it. The chain id is re-read after
// the attempt and the observed state returned.
func (g *NetworkGuard) RequestSwitch(ctx context.Context) (NetworkState, error) {
	p, err := g.manager.Provider()
	if err != nil {
		return NetworkIncorrect, err
	}

	attemptErr := g.switchChain(ctx, p)
	if code, ok := CodeOf(attemptErr); ok && code == CodeUnrecognizedChain {
		if addErr := g.RequestAdd(ctx); addErr != nil {
			attemptErr = addErr
		} else {
			attemptErr = g.switchChain(ctx, p)
		}
	}

	state, id, err := g.Check(ctx)
	if err != nil {
		return NetworkIncorrect, err
	}
	if state == NetworkCorrect {
		g.manager.metrics.IncNetworkSwitch("ok")
		g.manager.logAudit(ctx, audit.EventNetworkSwitched, "chain_id", id)
		return state, nil
	}

	g.manager.metrics.IncNetworkSwitch("failed")
	reason := "chain unchanged"
	if attemptErr != nil {
		reason = attemptErr.Error()
	}
	g.manager.logAudit(ctx, audit.EventNetworkSwitchFailed,
		"chain_id", id,
		"required_chain_id", g.required.ChainID,
		"reason", reason,
	)
	if attemptErr != nil {
		if classified := Classify(attemptErr, "network.switch"); failure.Is(classified, failure.KindUserRejected) {
			return state, classified
		}
	}
	return state, g.wrongNetwork("network.switch", id)
}

// RequestAdd registers the required chain with the wallet.
func (g *NetworkGuard) RequestAdd(ctx context.Context) error {
	p, err := g.manager.Provider()
	if err != nil {
		return err
	}
	params := AddChainParams{
		ChainID:   hexutil.EncodeUint64(g.required.ChainID),
		ChainName: g.required.Name,
		NativeCurrency: NativeCurrency{
			Name:     g.required.CurrencyName,
			Symbol:   g.required.CurrencySymbol,
			Decimals: g.required.Decimals,
		},
		RPCURLs: []string{g.required.RPCURL},
	}
	if g.required.ExplorerURL != "" {
		params.BlockExplorerURLs = []string{g.required.ExplorerURL}
	}
	if _, err := p.Request(ctx, MethodAddChain, params); err != nil {
		return Classify(err, "network.add")
	}
	g.manager.logAudit(ctx, audit.EventNetworkAdded, "chain_id", g.required.ChainID)
	return nil
}

// Info returns the live chain id, its state and the latest block number.
func (g *NetworkGuard) Info(ctx context.Context) (NetworkInfo, error) {
	p, err := g.manager.Provider()
	if err != nil {
		return NetworkInfo{}, err
	}
	state, id, err := g.Check(ctx)
	if err != nil {
		return NetworkInfo{}, err
	}
	raw, err := p.Request(ctx, MethodBlockNumber)
	if err != nil {
		return NetworkInfo{}, Classify(err, "network.info")
	}
	block, err := DecodeQuantity(raw)
	if err != nil {
		return NetworkInfo{}, Classify(err, "network.info")
	}
	info := NetworkInfo{ChainID: id, BlockNumber: block, State: state}
	if state == NetworkCorrect {
		info.Name = g.required.Name
	} else {
		info.Name = fmt.Sprintf("chain %d", id)
	}
	return info, nil
}

func (g *NetworkGuard) switchChain(ctx context.Context, p Provider) error {
	_, err := p.Request(ctx, MethodSwitchChain, switchChainParams{ChainID: hexutil.EncodeUint64(g.required.ChainID)})
	return err
}

func (g *NetworkGuard) stateOf(id uint64) NetworkState {
	if id == g.required.ChainID {
		return NetworkCorrect
	}
	return NetworkIncorrect
}

func (g *NetworkGuard) wrongNetwork(op string, actual uint64) error {
	return failure.New(failure.KindWrongNetwork, op,
		fmt.Sprintf("The wallet is on chain %d; switch to %s (chain %d).", actual, g.required.Name, g.required.ChainID))
}
