package wallet_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"guardian/internal/platform/logger"
	"guardian/internal/wallet"
	"guardian/internal/wallet/wallettest"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"
	"guardian/pkg/platform/audit"
	"guardian/pkg/platform/audit/store/memory"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
)

var (
	alice = common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	bob   = common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")
)

type ManagerSuite struct {
	suite.Suite
	ctx      context.Context
	provider *wallettest.Provider
	audit    *memory.InMemoryStore
	manager  *wallet.Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.provider = wallettest.New(31337, alice)
	s.audit = memory.NewInMemoryStore()
	s.manager = wallet.NewManager(s.provider,
		wallet.WithLogger(logger.Discard()),
		wallet.WithAuditPublisher(auditSink{s.audit}),
	)
}

type auditSink struct{ store *memory.InMemoryStore }

func (a auditSink) Emit(ctx context.Context, e audit.Event) error { return a.store.Append(ctx, e) }

func (s *ManagerSuite) TestConnect() {
	s.Run("installs first account as signer", func() {
		id, err := s.manager.Connect(s.ctx)
		s.Require().NoError(err)
		s.Equal(alice, id.Address)
		s.Equal(uint64(31337), id.ChainID)
		s.True(id.IsSigner)
		s.Equal(1, s.audit.CountAction(audit.EventWalletConnected))
	})

	s.Run("reconnecting the same account keeps the epoch", func() {
		before := s.manager.Connection().Epoch()
		_, err := s.manager.Connect(s.ctx)
		s.Require().NoError(err)
		s.Equal(before, s.manager.Connection().Epoch())
	})
}

func (s *ManagerSuite) TestConnectFailures() {
	s.Run("no provider", func() {
		m := wallet.NewManager(nil)
		_, err := m.Connect(s.ctx)
		s.True(failure.Is(err, failure.KindProviderUnavailable))
	})

	s.Run("user declines", func() {
		s.provider.Reject(wallet.MethodRequestAccounts)
		_, err := s.manager.Connect(s.ctx)
		s.True(failure.Is(err, failure.KindUserRejected))
		s.Equal(1, s.audit.CountAction(audit.EventWalletRejected))
		_, _, signerErr := s.manager.Connection().Signer()
		s.True(failure.Is(signerErr, failure.KindSignerRequired))
	})

	s.Run("unknown provider code is a network error", func() {
		s.provider.FailNext(wallet.MethodRequestAccounts, &wallet.RPCError{Code: -32000, Message: "header not found"})
		_, err := s.manager.Connect(s.ctx)
		s.True(failure.Is(err, failure.KindNetworkError))
	})

	s.Run("transport error is a network error", func() {
		s.provider.FailNext(wallet.MethodChainID, errors.New("EOF"))
		_, err := s.manager.Connect(s.ctx)
		s.True(failure.Is(err, failure.KindNetworkError))
	})
}

func (s *ManagerSuite) TestCurrentAccount() {
	s.Run("falls back to eth_accounts without prompting", func() {
		addr, err := s.manager.CurrentAccount(s.ctx)
		s.Require().NoError(err)
		s.Require().NotNil(addr)
		s.Equal(alice, *addr)
		s.Equal(0, s.provider.Calls(wallet.MethodRequestAccounts))
	})

	s.Run("nil when the wallet shares nothing", func() {
		p := wallettest.New(31337)
		addr, err := wallet.NewManager(p).CurrentAccount(s.ctx)
		s.Require().NoError(err)
		s.Nil(addr)
	})
}

func (s *ManagerSuite) TestSubscribe() {
	var (
		mu       sync.Mutex
		accounts [][]common.Address
		chains   []uint64
	)
	s.Require().NoError(s.manager.Subscribe(
		func(a []common.Address) { mu.Lock(); accounts = append(accounts, a); mu.Unlock() },
		func(c uint64) { mu.Lock(); chains = append(chains, c); mu.Unlock() },
	))
	_, err := s.manager.Connect(s.ctx)
	s.Require().NoError(err)

	s.Run("second subscription is a conflict", func() {
		err := s.manager.Subscribe(func([]common.Address) {}, func(uint64) {})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("account switch moves the signer and the epoch", func() {
		before := s.manager.Connection().Epoch()
		s.provider.SwitchAccount(bob)

		id, ok := s.manager.Connection().Identity()
		s.Require().True(ok)
		s.Equal(bob, id.Address)
		s.Greater(s.manager.Connection().Epoch(), before)
		s.Equal([]common.Address{bob}, accounts[len(accounts)-1])
	})

	s.Run("chain change drops the signer", func() {
		before := s.manager.Connection().Epoch()
		s.provider.SwitchChain(1)

		_, _, err := s.manager.Connection().Signer()
		s.True(failure.Is(err, failure.KindSignerRequired))
		s.Greater(s.manager.Connection().Epoch(), before)
		s.Equal([]uint64{1}, chains)
	})

	s.Run("empty accounts clears the identity", func() {
		s.provider.SwitchAccount()
		_, ok := s.manager.Connection().Identity()
		s.False(ok)
		s.Empty(accounts[len(accounts)-1])
	})

	s.Run("disconnect notifies the accounts listener", func() {
		n := len(accounts)
		s.manager.Disconnect(s.ctx)
		s.Len(accounts, n+1)
		s.Empty(accounts[n])
	})

	s.Run("close unregisters the provider listener", func() {
		s.manager.Close()
		s.Equal(0, s.provider.Len())
	})
}

func (s *ManagerSuite) TestSendTransaction() {
	s.Run("requires a signer", func() {
		_, err := s.manager.SendTransaction(s.ctx, wallet.TxRequest{To: bob})
		s.True(failure.Is(err, failure.KindSignerRequired))
		s.Equal(0, s.provider.Calls(wallet.MethodSendTransaction))
	})

	s.Run("sends from the signer", func() {
		_, err := s.manager.Connect(s.ctx)
		s.Require().NoError(err)
		hash, err := s.manager.SendTransaction(s.ctx, wallet.TxRequest{From: bob, To: bob, Data: []byte{1}})
		s.Require().NoError(err)
		s.NotEqual(common.Hash{}, hash)
		sent := s.provider.Sent()
		s.Require().Len(sent, 1)
		s.Equal(alice, sent[0].From, "from is always the connected signer")
	})

	s.Run("rejection is classified", func() {
		s.provider.Reject(wallet.MethodSendTransaction)
		_, err := s.manager.SendTransaction(s.ctx, wallet.TxRequest{To: bob})
		s.True(failure.Is(err, failure.KindUserRejected))
	})
}
