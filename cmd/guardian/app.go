package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"guardian/internal/auth/resolver"
	authservice "guardian/internal/auth/service"
	"guardian/internal/backend"
	backendmemory "guardian/internal/backend/store/memory"
	backendpostgres "guardian/internal/backend/store/postgres"
	"guardian/internal/contracts"
	"guardian/internal/ledger"
	"guardian/internal/platform/config"
	"guardian/internal/platform/logger"
	"guardian/internal/platform/metrics"
	"guardian/internal/platform/postgres"
	platformredis "guardian/internal/platform/redis"
	"guardian/internal/session"
	"guardian/internal/session/storage"
	"guardian/internal/transaction"
	"guardian/internal/wallet"
	"guardian/internal/wallet/keyprovider"
	"guardian/internal/wallet/rpcprovider"
	"guardian/pkg/domain"
	"guardian/pkg/platform/audit"
	"guardian/pkg/platform/audit/publisher"
	auditkafka "guardian/pkg/platform/audit/store/kafka"
	auditmemory "guardian/pkg/platform/audit/store/memory"
	auditpostgres "guardian/pkg/platform/audit/store/postgres"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db       *sql.DB
	redis    *platformredis.Client
	chain    *ethclient.Client
	provider wallet.Provider
	audit    *publisher.Publisher

	wallet   *wallet.Manager
	guard    *wallet.NetworkGuard
	gateway  *contracts.Gateway
	backend  *backend.Service
	sessions *session.Store
	auth     *authservice.Service
	ledger   *ledger.Service

	closers []func()
}

// newApp builds every component from cfg. Nothing here prompts the wallet.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      logger.New(cfg.LogLevel, cfg.LogFormat),
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.New(a.registry)

	if err := a.wireInfra(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireAudit(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireChain(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireIdentity(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireInfra(ctx context.Context) error {
	db, err := postgres.Open(ctx, a.cfg.Backend.DatabaseURL)
	if err != nil {
		return err
	}
	if db != nil {
		a.db = db
		a.closers = append(a.closers, func() { _ = db.Close() })
	}
	if a.cfg.Session.Backend == "redis" {
		rc, err := platformredis.New(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		if rc == nil {
			return errors.New("session backend is redis but GUARDIAN_REDIS_URL is empty")
		}
		a.redis = rc
		a.closers = append(a.closers, func() { _ = rc.Close() })
	}
	return nil
}

func (a *app) wireAudit(ctx context.Context) error {
	var primary audit.Store = auditmemory.NewInMemoryStore()
	if a.db != nil {
		pg := auditpostgres.New(a.db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		primary = pg
	}
	if len(a.cfg.Audit.KafkaBrokers) > 0 {
		sink, err := auditkafka.New(a.cfg.Audit.KafkaBrokers, a.cfg.Audit.Topic)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sink.Close)
		// With Kafka configured the materializer owns the Postgres rows.
		primary = audit.Tee(auditmemory.NewInMemoryStore(), sink)
	}
	a.audit = publisher.NewPublisher(primary,
		publisher.WithAsyncBuffer(a.cfg.Audit.AsyncBuffer),
		publisher.WithErrorHandler(func(err error) {
			a.log.Warn("audit append failed", "error", err)
		}),
	)
	a.closers = append(a.closers, a.audit.Close)
	return nil
}

func (a *app) wireChain(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, a.cfg.Network.RPCURL)
	if err != nil {
		return fmt.Errorf("dial chain RPC: %w", err)
	}
	a.chain = client
	a.closers = append(a.closers, client.Close)

	switch a.cfg.Wallet.Provider {
	case "key":
		p, err := keyprovider.Dial(ctx, a.cfg.Wallet.PrivateKey, a.cfg.Network.RPCURL)
		if err != nil {
			return err
		}
		a.provider = p
	default:
		p, err := rpcprovider.Dial(ctx, a.cfg.Wallet.URL,
			rpcprovider.WithPollInterval(a.cfg.Wallet.PollInterval),
			rpcprovider.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.provider = p
		a.closers = append(a.closers, p.Close)
	}

	a.wallet = wallet.NewManager(a.provider,
		wallet.WithLogger(a.log),
		wallet.WithAuditPublisher(a.audit),
		wallet.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.wallet.Close)
	a.guard = wallet.NewNetworkGuard(a.wallet, a.cfg.Network)

	ledgerAddr, err := domain.ParseAddress(a.cfg.Contracts.Ledger)
	if err != nil {
		return fmt.Errorf("GUARDIAN_LEDGER_ADDRESS: %w", err)
	}
	registryAddr, err := domain.ParseAddress(a.cfg.Contracts.Registry)
	if err != nil {
		return fmt.Errorf("GUARDIAN_REGISTRY_ADDRESS: %w", err)
	}
	a.gateway = contracts.New(client, a.wallet, a.wallet.Connection(), ledgerAddr, registryAddr,
		contracts.WithGasLimits(a.cfg.Transaction.GasLimits))
	return nil
}

func (a *app) wireIdentity(ctx context.Context) error {
	var store backend.Store = backendmemory.New()
	if a.db != nil {
		pg := backendpostgres.New(a.db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
	} else {
		a.log.Warn("no GUARDIAN_DATABASE_URL; identity backend is in-memory and forgets users on exit")
	}
	a.backend = backend.NewService(store,
		backend.NewTokenService(a.cfg.Backend.JWTSigningKey, "guardian", "guardian-cli"),
		backend.WithLogger(a.log),
		backend.WithTokenTTL(a.cfg.Backend.TokenTTL),
	)

	res := resolver.New(a.gateway, a.backend,
		resolver.WithLogger(a.log),
		resolver.WithAuditPublisher(a.audit),
		resolver.WithMetrics(a.metrics),
		resolver.WithSessionTTL(a.cfg.Session.TTL),
	)

	sessions, err := a.sessionStore()
	if err != nil {
		return err
	}
	a.sessions = sessions

	a.auth = authservice.New(res, a.wallet, a.sessions,
		authservice.WithLogger(a.log),
		authservice.WithAuditPublisher(a.audit),
		authservice.WithMetrics(a.metrics),
	)

	executor := transaction.New(a.guard, a.wallet.Connection(), a.chain, a.gateway.Decoders(), a.cfg.Transaction,
		transaction.WithLogger(a.log),
		transaction.WithAuditPublisher(a.audit),
		transaction.WithMetrics(a.metrics),
	)
	a.ledger = ledger.New(a.auth, executor, a.gateway, ledger.WithLogger(a.log))
	return nil
}

func (a *app) sessionStore() (*session.Store, error) {
	var c *session.Cipher
	var err error
	if a.cfg.Session.Key == "" {
		a.log.Warn("no GUARDIAN_SESSION_KEY; sessions will not survive this process")
		c, err = session.RandomCipher()
	} else {
		c, err = session.NewCipher([]byte(a.cfg.Session.Key))
	}
	if err != nil {
		return nil, err
	}

	var st session.Storage
	switch a.cfg.Session.Backend {
	case "redis":
		st = storage.NewRedis(a.redis.Client)
	case "memory":
		st = storage.NewMemory()
	default:
		st = storage.NewFile(a.cfg.Session.FilePath)
	}
	return session.New(st, c,
		session.WithRoleVerifier(a.gateway),
		session.WithTTL(a.cfg.Session.TTL),
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
	), nil
}

// restore resumes the persisted session, if any.
func (a *app) restore(ctx context.Context) error {
	_, err := a.auth.Restore(ctx)
	return err
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
