// Package e2e runs the feature suite against the identity and ledger
// components wired the way the CLI wires them, with an in-memory chain and
// wallet standing in for the node and the browser.
package e2e

import (
	"context"
	"fmt"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/auth/resolver"
	authservice "guardian/internal/auth/service"
	"guardian/internal/backend"
	backendmemory "guardian/internal/backend/store/memory"
	"guardian/internal/contracts"
	"guardian/internal/contracts/contractstest"
	"guardian/internal/ledger"
	"guardian/internal/platform/config"
	"guardian/internal/platform/logger"
	"guardian/internal/session"
	"guardian/internal/session/storage"
	"guardian/internal/transaction"
	"guardian/internal/wallet"
	"guardian/internal/wallet/wallettest"
	"guardian/pkg/domain"
	"guardian/pkg/platform/audit"
	"guardian/pkg/platform/audit/publisher"
	auditmemory "guardian/pkg/platform/audit/store/memory"

	"github.com/ethereum/go-ethereum/common"
)

var localNetwork = config.Network{
	ChainID:        31337,
	Name:           "Localhost",
	RPCURL:         "http://127.0.0.1:8545",
	CurrencySymbol: "ETH",
	Decimals:       18,
}

// World is the per-scenario system under test.
type World struct {
	account  common.Address
	chain    *contractstest.Chain
	provider *wallettest.Provider
	manager  *wallet.Manager
	gateway  *contracts.Gateway
	backend  *backend.Service
	events   *auditmemory.InMemoryStore
	audit    *publisher.Publisher
	auth     *authservice.Service
	ledger   *ledger.Service
}

// NewWorld returns an empty world; Deploy and Unlock build it up.
func NewWorld() *World {
	events := auditmemory.NewInMemoryStore()
	return &World{
		events: events,
		audit:  publisher.NewPublisher(events),
		backend: backend.NewService(backendmemory.New(),
			backend.NewTokenService("e2e-signing-key", "guardian", "guardian-e2e"),
			backend.WithLogger(logger.Discard())),
	}
}

// Deploy starts a fresh chain whose registry is owned by owner.
func (w *World) Deploy(owner common.Address) {
	w.chain = contractstest.New(owner)
}

// Unlock attaches a wallet holding account and wires every component on
// top of it.
func (w *World) Unlock(account common.Address) error {
	if w.chain == nil {
		return fmt.Errorf("no chain deployed")
	}
	log := logger.Discard()
	w.account = account
	w.provider = wallettest.New(localNetwork.ChainID, account)
	w.chain.Attach(w.provider)
	w.manager = wallet.NewManager(w.provider, wallet.WithLogger(log), wallet.WithAuditPublisher(w.audit))

	w.gateway = contracts.New(w.chain, w.manager, w.manager.Connection(),
		contractstest.LedgerAddress, contractstest.RegistryAddress)

	cipher, err := session.RandomCipher()
	if err != nil {
		return err
	}
	sessions := session.New(storage.NewMemory(), cipher,
		session.WithRoleVerifier(w.gateway),
		session.WithLogger(log))

	res := resolver.New(w.gateway, w.backend,
		resolver.WithLogger(log),
		resolver.WithAuditPublisher(w.audit))
	w.auth = authservice.New(res, w.manager, sessions,
		authservice.WithLogger(log),
		authservice.WithAuditPublisher(w.audit))
	if err := w.auth.Listen(); err != nil {
		return err
	}

	executor := transaction.New(wallet.NewNetworkGuard(w.manager, localNetwork), w.manager.Connection(), w.chain,
		w.gateway.Decoders(), config.Transaction{
			ConfirmationTimeout:   2 * time.Second,
			MaxConfirmationBlocks: 50,
			PollInterval:          5 * time.Millisecond,
		},
		transaction.WithLogger(log),
		transaction.WithAuditPublisher(w.audit))
	w.ledger = ledger.New(w.auth, executor, w.gateway, ledger.WithLogger(log))
	return nil
}

// Close releases the wallet subscription.
func (w *World) Close() {
	if w.manager != nil {
		w.manager.Close()
	}
}

func (w *World) Account() common.Address           { return w.account }
func (w *World) Chain() *contractstest.Chain       { return w.chain }
func (w *World) Provider() *wallettest.Provider    { return w.provider }
func (w *World) Manager() *wallet.Manager          { return w.manager }
func (w *World) Gateway() *contracts.Gateway       { return w.gateway }
func (w *World) Auth() *authservice.Service        { return w.auth }
func (w *World) Ledger() *ledger.Service           { return w.ledger }
func (w *World) Backend() *backend.Service         { return w.backend }
func (w *World) CountAudit(e audit.AuditEvent) int { return w.events.CountAction(e) }

// SaveProfile stores a backend profile binding addr to role.
func (w *World) SaveProfile(ctx context.Context, addr common.Address, role domain.Role) error {
	a := addr
	return w.backend.SaveProfile(ctx, &backend.Profile{
		UserID:      domain.WalletUserID(addr),
		DisplayName: models.ShortAddress(addr),
		Role:        role,
		RoleTitle:   role.Title(),
		Address:     &a,
	})
}

// ProfileRole reads the backend role recorded for addr.
func (w *World) ProfileRole(ctx context.Context, addr common.Address) (domain.Role, error) {
	p, err := w.backend.FindProfileByAddress(ctx, addr)
	if err != nil {
		return domain.RoleNone, err
	}
	return p.Role, nil
}
