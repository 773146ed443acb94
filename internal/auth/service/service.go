// Package service is the AuthSession facade: it owns the single current
// actor and keeps it consistent with the wallet and the persisted session.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/platform/metrics"
	"guardian/internal/wallet"
	"guardian/pkg/attrs"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/failure"
	"guardian/pkg/platform/audit"
	"guardian/pkg/requestcontext"

	"github.com/ethereum/go-ethereum/common"
)

// Resolver turns credentials or a wallet address into an AuthenticatedUser.
type Resolver interface {
	ResolveWallet(ctx context.Context, addr common.Address) (*models.Resolution, error)
	ResolveCredentials(ctx context.Context, email, password string) (*models.Resolution, error)
	ResolveProfile(ctx context.Context, current *models.AuthenticatedUser) (*models.Resolution, error)
}

// SessionStore persists the current user.
type SessionStore interface {
	Save(ctx context.Context, u *models.AuthenticatedUser) error
	Load(ctx context.Context) (*models.AuthenticatedUser, error)
	Clear(ctx context.Context) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Logout reasons, also used as metric labels.
const (
	ReasonUser           = "user"
	ReasonAccountsEmpty  = "accounts_empty"
	ReasonAccountSwitch  = "account_switched"
	ReasonRoleDowngraded = "role_downgraded"
	ReasonExpired        = "expired"
	ReasonRevoked        = "revoked"
)

const notificationTimeout = 30 * time.Second

// Service holds the current session. All methods are safe for concurrent
// use; wallet notifications arrive on the provider's dispatch goroutine.
type Service struct {
	resolver       Resolver
	wallet         *wallet.Manager
	sessions       SessionStore
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	now            func() time.Time

	mu      sync.Mutex
	current *models.AuthenticatedUser
	// chainID is the chain the wallet session was resolved on.
	chainID uint64
	// stale is set when the wallet environment changed under a live session;
	// Authorize resyncs before permitting anything.
	stale     bool
	listeners []func(*models.AuthenticatedUser)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = mt
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the facade. w may be nil for email-only use.
func New(resolver Resolver, w *wallet.Manager, sessions SessionStore, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		wallet:   w,
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen subscribes to wallet account and chain notifications. Call once
// per wallet provider.
func (s *Service) Listen() error {
	if s.wallet == nil {
		return failure.New(failure.KindProviderUnavailable, "auth.listen", "")
	}
	return s.wallet.Subscribe(s.onAccountsChanged, s.onChainChanged)
}

// OnChange registers fn to be called with the new current user (nil when
// signed out) after every transition.
func (s *Service) OnChange(fn func(*models.AuthenticatedUser)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns a copy of the current user, or nil.
func (s *Service) Current() *models.AuthenticatedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.current)
}

// Stale reports whether the session must be re-resolved before use.
func (s *Service) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// LoginWithCredentials signs in through the managed backend.
func (s *Service) LoginWithCredentials(ctx context.Context, email, password string) (*models.Resolution, error) {
	res, err := s.resolver.ResolveCredentials(ctx, email, password)
	if err != nil {
		s.metrics.IncLogin("email", string(failure.KindOf(err)))
		return nil, err
	}
	res = s.install(ctx, res, 0)
	s.metrics.IncLogin("email", "ok")
	s.logAudit(ctx, audit.EventLoginSucceeded,
		"address", res.User.Subject(),
		"auth_type", string(models.AuthTypeEmail),
		"role", res.User.Role.String(),
	)
	return res, nil
}

// LoginWithWallet connects the wallet and resolves the account's role. If
// the wallet changes account or chain during resolution the attempt fails
// with RoleSyncFailed.
func (s *Service) LoginWithWallet(ctx context.Context) (*models.Resolution, error) {
	if s.wallet == nil {
		return nil, failure.New(failure.KindProviderUnavailable, "auth.login_wallet", "")
	}
	id, err := s.wallet.Connect(ctx)
	if err != nil {
		s.metrics.IncLogin("wallet", string(failure.KindOf(err)))
		return nil, err
	}
	res, err := s.resolveSigner(ctx, id, s.wallet.Connection().Epoch())
	if err != nil {
		s.metrics.IncLogin("wallet", string(failure.KindOf(err)))
		return nil, err
	}
	res = s.install(ctx, res, id.ChainID)
	s.metrics.IncLogin("wallet", "ok")
	s.logAudit(ctx, audit.EventLoginSucceeded,
		"address", id.Address.Hex(),
		"auth_type", string(models.AuthTypeWallet),
		"role", res.User.Role.String(),
		"chain_id", id.ChainID,
	)
	return res, nil
}

// resolveSigner resolves id and checks the wallet did not move while the
// lookups were in flight.
func (s *Service) resolveSigner(ctx context.Context, id wallet.Identity, epoch uint64) (*models.Resolution, error) {
	res, err := s.resolver.ResolveWallet(ctx, id.Address)
	if err != nil {
		return nil, err
	}
	if s.wallet.Connection().Epoch() != epoch {
		return nil, failure.New(failure.KindRoleSyncFailed, "auth.login_wallet", "The wallet changed during sign-in. Try again.")
	}
	return res, nil
}

// Logout clears the session and, for wallet sessions, the local signer.
func (s *Service) Logout(ctx context.Context) error {
	prev := s.signOut(ctx, ReasonUser)
	if prev != nil && prev.AuthType == models.AuthTypeWallet && s.wallet != nil {
		s.wallet.Disconnect(ctx)
	}
	return nil
}

// Restore resumes a persisted session, if any. Wallet sessions come back
// stale: the signer must be re-acquired and the role re-resolved before the
// first authorized action.
func (s *Service) Restore(ctx context.Context) (*models.AuthenticatedUser, error) {
	u, err := s.sessions.Load(ctx)
	if err != nil {
		s.logAudit(ctx, audit.EventSessionRejected, "reason", string(failure.KindOf(err)))
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	s.mu.Lock()
	s.current = u
	s.chainID = 0
	s.stale = u.AuthType == models.AuthTypeWallet
	s.mu.Unlock()
	s.notify(u)
	s.logAudit(ctx, audit.EventSessionRestored,
		"address", u.Subject(),
		"auth_type", string(u.AuthType),
	)
	return copyUser(u), nil
}

// Resync re-runs role resolution for the current session. A role downgrade
// or revocation signs the user out; an upgrade is applied in place.
func (s *Service) Resync(ctx context.Context) (*models.Resolution, error) {
	prev := s.Current()
	if prev == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "not signed in")
	}

	var (
		res     *models.Resolution
		chainID uint64
		err     error
	)
	switch prev.AuthType {
	case models.AuthTypeWallet:
		res, chainID, err = s.resyncWallet(ctx, prev)
	default:
		res, err = s.resolver.ResolveProfile(ctx, prev)
	}
	if err != nil {
		if failure.Is(err, failure.KindWalletNotAuthorized) || failure.Is(err, failure.KindProfileNotFound) {
			s.logAudit(ctx, audit.EventRoleDowngraded,
				"address", prev.Subject(),
				"from", prev.Role.String(),
				"to", domain.RoleNone.String(),
			)
			s.signOut(ctx, ReasonRevoked)
		}
		return nil, err
	}

	next := res.User
	if prev.AuthType == models.AuthTypeWallet && next.Address != nil && *next.Address != *prev.Address {
		// The wallet moved to another account; treat it as a fresh login.
		s.signOut(ctx, ReasonAccountSwitch)
		res = s.install(ctx, res, chainID)
		return res, nil
	}

	if prev.Role.IsDowngradeTo(next.Role) {
		s.logAudit(ctx, audit.EventRoleDowngraded,
			"address", prev.Subject(),
			"from", prev.Role.String(),
			"to", next.Role.String(),
		)
		s.signOut(ctx, ReasonRoleDowngraded)
		return nil, failure.New(failure.KindRoleSyncFailed, "auth.resync", "Your role changed. Sign in again.")
	}
	if next.Role != prev.Role {
		s.logAudit(ctx, audit.EventRoleUpgraded,
			"address", prev.Subject(),
			"from", prev.Role.String(),
			"to", next.Role.String(),
		)
	}
	next.IssuedAt = prev.IssuedAt
	if next.ExpiresAt.IsZero() || (!prev.ExpiresAt.IsZero() && prev.ExpiresAt.Before(next.ExpiresAt)) {
		next.ExpiresAt = prev.ExpiresAt
	}
	return s.install(ctx, res, chainID), nil
}

func (s *Service) resyncWallet(ctx context.Context, prev *models.AuthenticatedUser) (*models.Resolution, uint64, error) {
	if s.wallet == nil {
		return nil, 0, failure.New(failure.KindProviderUnavailable, "auth.resync", "")
	}
	id, epoch, err := s.wallet.Connection().Signer()
	if err != nil {
		if id, err = s.wallet.Connect(ctx); err != nil {
			return nil, 0, err
		}
		epoch = s.wallet.Connection().Epoch()
	}
	res, err := s.resolveSigner(ctx, id, epoch)
	if err != nil {
		return nil, 0, err
	}
	return res, id.ChainID, nil
}

// Authorize returns the current user if they hold p. A stale session is
// resynced first and an expired one is signed out.
func (s *Service) Authorize(ctx context.Context, p domain.Permission) (*models.AuthenticatedUser, error) {
	u := s.Current()
	if u == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "sign in first")
	}
	if u.Expired(s.now()) {
		s.signOut(ctx, ReasonExpired)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session expired")
	}
	if s.Stale() {
		res, err := s.Resync(ctx)
		if err != nil {
			return nil, err
		}
		u = res.User
	}
	if !u.Can(p) {
		s.logAudit(ctx, audit.EventPermissionDenied,
			"address", u.Subject(),
			"permission", string(p),
			"role", u.Role.String(),
		)
		return nil, dErrors.New(dErrors.CodeForbidden, "role "+u.Role.Title()+" may not perform "+string(p))
	}
	return copyUser(u), nil
}

// install makes res.User current and persists it. A persistence failure is
// a warning: the in-memory session still works.
func (s *Service) install(ctx context.Context, res *models.Resolution, chainID uint64) *models.Resolution {
	u := copyUser(res.User)
	if err := s.sessions.Save(ctx, u); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "session not persisted", "error", err)
		}
		res.Warnings = append(res.Warnings, models.Warning{
			Code:    models.WarningSessionNotSaved,
			Message: "You will need to sign in again after restarting.",
		})
	}
	s.mu.Lock()
	s.current = u
	s.chainID = chainID
	s.stale = false
	s.mu.Unlock()
	s.notify(u)
	return res
}

// signOut clears the session and returns the user that was signed in.
func (s *Service) signOut(ctx context.Context, reason string) *models.AuthenticatedUser {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.chainID = 0
	s.stale = false
	s.mu.Unlock()
	if prev == nil {
		return nil
	}
	if err := s.sessions.Clear(ctx); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to clear persisted session", "error", err)
	}
	s.metrics.IncLogout(reason)
	s.logAudit(ctx, audit.EventLoggedOut, "address", prev.Subject(), "reason", reason)
	s.notify(nil)
	return prev
}

func (s *Service) onAccountsChanged(accounts []common.Address) {
	ctx, cancel := context.WithTimeout(requestcontext.EnsureRequestID(context.Background()), notificationTimeout)
	defer cancel()

	u := s.Current()
	if u == nil {
		return
	}
	if len(accounts) == 0 {
		s.signOut(ctx, ReasonAccountsEmpty)
		return
	}
	if u.AuthType != models.AuthTypeWallet || (u.Address != nil && *u.Address == accounts[0]) {
		return
	}

	s.signOut(ctx, ReasonAccountSwitch)
	id, epoch, err := s.wallet.Connection().Signer()
	if err != nil {
		return
	}
	res, err := s.resolveSigner(ctx, id, epoch)
	if err != nil {
		s.metrics.IncLogin("wallet", string(failure.KindOf(err)))
		if s.logger != nil && !errors.Is(err, context.Canceled) {
			s.logger.InfoContext(ctx, "re-login after account switch failed", "address", id.Address.Hex(), "error", err)
		}
		return
	}
	s.install(ctx, res, id.ChainID)
	s.metrics.IncLogin("wallet", "ok")
	s.logAudit(ctx, audit.EventLoginSucceeded,
		"address", id.Address.Hex(),
		"auth_type", string(models.AuthTypeWallet),
		"role", res.User.Role.String(),
		"reason", ReasonAccountSwitch,
	)
}

func (s *Service) onChainChanged(chainID uint64) {
	s.mu.Lock()
	// The manager drops the signer on every chain notification, including
	// one that repeats the session's chain.
	walletSession := s.current != nil && s.current.AuthType == models.AuthTypeWallet
	if walletSession {
		s.stale = true
	}
	s.mu.Unlock()
	if walletSession && s.logger != nil {
		s.logger.Info("session marked stale after chain change", "chain_id", chainID)
	}
}

func (s *Service) notify(u *models.AuthenticatedUser) {
	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(copyUser(u))
	}
}

func copyUser(u *models.AuthenticatedUser) *models.AuthenticatedUser {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Address != nil {
		a := *u.Address
		cp.Address = &a
	}
	return &cp
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	e := audit.NewEvent(event, attrs.ExtractString(attributes, "address"))
	e.Reason = attrs.ExtractString(attributes, "reason")
	e.RequestID = attrs.ExtractString(attributes, "request_id")
	e.ActorID = requestcontext.Actor(ctx)
	e.Details = attrs.ToMap(attributes, "address", "reason", "request_id")
	_ = s.auditPublisher.Emit(ctx, e)
}
