package wallet_test

import (
	"context"
	"encoding/json"
	"testing"

	"guardian/internal/platform/config"
	"guardian/internal/wallet"
	"guardian/internal/wallet/wallettest"
	"guardian/pkg/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sepolia = config.Network{
	ChainID:        11155111,
	Name:           "Sepolia",
	RPCURL:         "https://rpc.sepolia.org",
	CurrencyName:   "Sepolia Ether",
	CurrencySymbol: "ETH",
	Decimals:       18,
}

func TestNetworkGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("correct network", func(t *testing.T) {
		p := wallettest.New(sepolia.ChainID, alice)
		g := wallet.NewNetworkGuard(wallet.NewManager(p), sepolia)

		require.NoError(t, g.Ensure(ctx))
		p.SetBlockNumber(42)
		info, err := g.Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, wallet.NetworkInfo{ChainID: sepolia.ChainID, Name: "Sepolia", BlockNumber: 42, State: wallet.NetworkCorrect}, info)
	})

	t.Run("wrong network is reported", func(t *testing.T) {
		g := wallet.NewNetworkGuard(wallet.NewManager(wallettest.New(1, alice)), sepolia)
		err := g.Ensure(ctx)
		assert.True(t, failure.Is(err, failure.KindWrongNetwork))
		assert.Contains(t, failure.UserMessage(err), "Sepolia")
	})

	t.Run("switch to a known chain", func(t *testing.T) {
		p := wallettest.New(1, alice)
		p.SwitchChain(sepolia.ChainID)
		p.SwitchChain(1)
		g := wallet.NewNetworkGuard(wallet.NewManager(p), sepolia)

		state, err := g.RequestSwitch(ctx)
		require.NoError(t, err)
		assert.Equal(t, wallet.NetworkCorrect, state)
		assert.Equal(t, 0, p.Calls(wallet.MethodAddChain))
	})

	t.Run("unrecognized chain is added then switched", func(t *testing.T) {
		p := wallettest.New(1, alice)
		g := wallet.NewNetworkGuard(wallet.NewManager(p), sepolia)

		state, err := g.RequestSwitch(ctx)
		require.NoError(t, err)
		assert.Equal(t, wallet.NetworkCorrect, state)
		assert.Equal(t, 1, p.Calls(wallet.MethodAddChain))
		assert.Equal(t, 2, p.Calls(wallet.MethodSwitchChain))
	})

	t.Run("user declines the switch", func(t *testing.T) {
		p := wallettest.New(1, alice)
		p.Reject(wallet.MethodSwitchChain)
		g := wallet.NewNetworkGuard(wallet.NewManager(p), sepolia)

		state, err := g.RequestSwitch(ctx)
		assert.Equal(t, wallet.NetworkIncorrect, state)
		assert.True(t, failure.Is(err, failure.KindUserRejected))
	})

	t.Run("switch that silently does nothing is wrong network", func(t *testing.T) {
		p := wallettest.New(1, alice)
		p.Handle(wallet.MethodSwitchChain, func([]json.RawMessage) (any, error) { return nil, nil })
		g := wallet.NewNetworkGuard(wallet.NewManager(p), sepolia)

		state, err := g.RequestSwitch(ctx)
		assert.Equal(t, wallet.NetworkIncorrect, state)
		assert.True(t, failure.Is(err, failure.KindWrongNetwork))
	})

	t.Run("no provider", func(t *testing.T) {
		g := wallet.NewNetworkGuard(wallet.NewManager(nil), sepolia)
		_, err := g.RequestSwitch(ctx)
		assert.True(t, failure.Is(err, failure.KindProviderUnavailable))
	})
}
