// Package resolver reconciles the managed backend with the on-chain role
// registry to decide who the current actor is.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/backend"
	"guardian/internal/platform/metrics"
	"guardian/pkg/attrs"
	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"
	emailutil "guardian/pkg/email"
	"guardian/pkg/failure"
	"guardian/pkg/platform/audit"
	"guardian/pkg/requestcontext"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RoleRegistry reads the on-chain role registry.
type RoleRegistry interface {
	GetUserRole(ctx context.Context, user common.Address) (domain.Role, error)
	Owner(ctx context.Context) (common.Address, error)
}

// Backend is the managed identity backend.
type Backend interface {
	Authenticate(ctx context.Context, email, password string) (*backend.Session, error)
	FindProfile(ctx context.Context, id domain.UserID) (*backend.Profile, error)
	FindProfileByAddress(ctx context.Context, addr common.Address) (*backend.Profile, error)
	SaveProfile(ctx context.Context, p *backend.Profile) error
	CreateProfileIfFirst(ctx context.Context, p *backend.Profile) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Resolver produces AuthenticatedUsers. Safe for concurrent use; concurrent
// wallet resolutions of one address share a single lookup.
type Resolver struct {
	registry RoleRegistry
	backend  Backend
	group    singleflight.Group

	sessionTTL     time.Duration
	lookupTimeout  time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	now            func() time.Time
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Resolver) {
		r.auditPublisher = publisher
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = mt
	}
}

// WithSessionTTL sets the expiry stamped on wallet users. Email users take
// the backend token's expiry.
func WithSessionTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.sessionTTL = ttl
		}
	}
}

// WithLookupTimeout bounds a shared wallet lookup, which outlives the
// cancellation of the caller that started it.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func New(registry RoleRegistry, b Backend, opts ...Option) *Resolver {
	r := &Resolver{
		registry:      registry,
		backend:       b,
		sessionTTL:    12 * time.Hour,
		lookupTimeout: 30 * time.Second,
		tracer:        otel.Tracer("guardian/resolver"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveWallet resolves the actor behind addr.
//
// The registry role and the backend profile are read in parallel. A None
// registry role authorizes nobody except the registry owner, who is
// bootstrapped as Court. When both sources hold different non-None roles
// the backend wins and a warning is returned.
func (r *Resolver) ResolveWallet(ctx context.Context, addr common.Address) (*models.Resolution, error) {
	ch := r.group.DoChan(addr.Hex(), func() (any, error) {
		// Joined callers must not inherit the first caller's cancellation.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		return r.resolveWallet(lctx, addr)
	})
	select {
	case <-ctx.Done():
		return nil, failure.Wrap(ctx.Err(), failure.KindRoleSyncFailed, "resolver.wallet", "")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyResolution(res.Val.(*models.Resolution)), nil
	}
}

func (r *Resolver) resolveWallet(ctx context.Context, addr common.Address) (*models.Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.wallet", trace.WithAttributes(attribute.String("wallet.address", addr.Hex())))
	defer span.End()
	defer r.metrics.ObserveResolve("wallet", time.Now())

	var (
		chainRole  domain.Role
		profile    *backend.Profile
		backendErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		role, err := r.registry.GetUserRole(gctx, addr)
		if err != nil {
			return err
		}
		chainRole = role
		return nil
	})
	g.Go(func() error {
		p, err := r.backend.FindProfileByAddress(gctx, addr)
		switch {
		case err == nil:
			profile = p
		case dErrors.HasCode(err, dErrors.CodeNotFound):
		default:
			backendErr = err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, r.fail(ctx, span, addr.Hex(), failure.Wrap(err, failure.KindRoleSyncFailed, "resolver.wallet", ""))
	}

	res := &models.Resolution{}
	if backendErr != nil {
		if r.logger != nil {
			r.logger.WarnContext(ctx, "backend profile lookup failed", "address", addr.Hex(), "error", backendErr)
		}
		res.Warnings = append(res.Warnings, models.Warning{
			Code:    models.WarningBackendUnavailable,
			Message: "The identity backend could not be reached; using the on-chain role.",
		})
	}

	if chainRole.IsNone() {
		owner, err := r.registry.Owner(ctx)
		if err != nil {
			return nil, r.fail(ctx, span, addr.Hex(), failure.Wrap(err, failure.KindRoleSyncFailed, "resolver.wallet", ""))
		}
		if owner != addr {
			r.logAudit(ctx, audit.EventLoginFailed, "address", addr, "reason", "no registry role", "method", "wallet")
			return nil, r.fail(ctx, span, addr.Hex(), failure.New(failure.KindWalletNotAuthorized, "resolver.wallet", ""))
		}
		return r.bootstrapOwner(ctx, addr, profile, res), nil
	}

	role, title := chainRole, chainRole.Title()
	if profile != nil && !profile.Role.IsNone() {
		if profile.Role != chainRole {
			r.metrics.IncRoleMismatch()
			r.logAudit(ctx, audit.EventRoleMismatch,
				"address", addr,
				"backend_role", profile.Role,
				"chain_role", chainRole,
			)
			res.Warnings = append(res.Warnings, models.Warning{
				Code: models.WarningRoleMismatch,
				Message: fmt.Sprintf("The registry lists this wallet as %s but the backend says %s; using %s.",
					chainRole.Title(), profile.Role.Title(), profile.Role.Title()),
			})
		}
		role, title = profile.Role, profile.RoleTitle
		if title == "" {
			title = role.Title()
		}
	}

	res.User = r.walletUser(addr, profile, role, title)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// bootstrapOwner grants Court to the registry owner. The backend profile is
// written best effort; the registry itself is not touched.
func (r *Resolver) bootstrapOwner(ctx context.Context, addr common.Address, profile *backend.Profile, res *models.Resolution) *models.Resolution {
	if profile == nil {
		a := addr
		profile = &backend.Profile{
			UserID:      domain.WalletUserID(addr),
			DisplayName: "Registry Owner",
			Address:     &a,
		}
	}
	profile.Role = domain.RoleCourt
	profile.RoleTitle = domain.RoleCourt.Title()
	if err := r.backend.SaveProfile(ctx, profile); err != nil {
		if r.logger != nil {
			r.logger.WarnContext(ctx, "owner profile not saved", "address", addr.Hex(), "error", err)
		}
		res.Warnings = append(res.Warnings, models.Warning{
			Code:    models.WarningProfileNotSaved,
			Message: "Signed in as registry owner, but the backend profile could not be saved.",
		})
	}
	r.metrics.IncOwnerBootstrap()
	r.logAudit(ctx, audit.EventOwnerBootstrapped, "address", addr, "role", domain.RoleCourt)
	res.User = r.walletUser(addr, profile, domain.RoleCourt, domain.RoleCourt.Title())
	res.Bootstrapped = true
	return res
}

func (r *Resolver) walletUser(addr common.Address, profile *backend.Profile, role domain.Role, title string) *models.AuthenticatedUser {
	now := r.now()
	a := addr
	u := &models.AuthenticatedUser{
		ID:          domain.WalletUserID(addr),
		DisplayName: "Wallet " + models.ShortAddress(addr),
		Role:        role,
		RoleTitle:   title,
		Address:     &a,
		AuthType:    models.AuthTypeWallet,
		IssuedAt:    now,
		ExpiresAt:   now.Add(r.sessionTTL),
	}
	if profile != nil {
		u.ID = profile.UserID
		u.Email = profile.Email
		if profile.DisplayName != "" {
			u.DisplayName = profile.DisplayName
		}
	}
	return u
}

// ResolveCredentials signs in with email and password. A user without a
// profile is provisioned as Court only when the backend has no profiles at
// all.
func (r *Resolver) ResolveCredentials(ctx context.Context, email, password string) (*models.Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.credentials")
	defer span.End()
	defer r.metrics.ObserveResolve("credentials", time.Now())

	sess, err := r.backend.Authenticate(ctx, email, password)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			r.logAudit(ctx, audit.EventLoginFailed, "address", backend.NormalizeEmail(email), "reason", "invalid credentials", "method", "email")
			span.SetStatus(codes.Error, "unauthorized")
			return nil, err
		}
		return nil, r.fail(ctx, span, email, failure.Wrap(err, failure.KindNetworkError, "resolver.credentials", ""))
	}

	res := &models.Resolution{}
	profile, err := r.backend.FindProfile(ctx, sess.UserID)
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		profile = &backend.Profile{
			UserID:      sess.UserID,
			Email:       sess.Email,
			DisplayName: emailutil.DisplayName(sess.Email, "Administrator"),
			Role:        domain.RoleCourt,
			RoleTitle:   domain.RoleCourt.Title(),
		}
		created, err := r.backend.CreateProfileIfFirst(ctx, profile)
		if err != nil {
			return nil, r.fail(ctx, span, sess.UserID.String(), failure.Wrap(err, failure.KindNetworkError, "resolver.credentials", ""))
		}
		if !created {
			return nil, r.fail(ctx, span, sess.UserID.String(), failure.New(failure.KindProfileNotFound, "resolver.credentials", ""))
		}
		res.Bootstrapped = true
		r.logAudit(ctx, audit.EventAdminProvisioned, "address", sess.UserID, "email", sess.Email)
	default:
		return nil, r.fail(ctx, span, sess.UserID.String(), classifyProfileErr(err, "resolver.credentials"))
	}

	res.User = emailUser(profile, sess, r.now())
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// ResolveProfile re-reads the profile behind an email session. Used to
// re-validate a restored or stale session.
func (r *Resolver) ResolveProfile(ctx context.Context, current *models.AuthenticatedUser) (*models.Resolution, error) {
	profile, err := r.backend.FindProfile(ctx, current.ID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, failure.New(failure.KindProfileNotFound, "resolver.profile", "")
		}
		return nil, classifyProfileErr(err, "resolver.profile")
	}
	u := emailUser(profile, &backend.Session{UserID: current.ID, Email: current.Email, Token: current.Token, ExpiresAt: current.ExpiresAt}, r.now())
	u.IssuedAt = current.IssuedAt
	return &models.Resolution{User: u}, nil
}

func emailUser(p *backend.Profile, sess *backend.Session, now time.Time) *models.AuthenticatedUser {
	title := p.RoleTitle
	if title == "" {
		title = p.Role.Title()
	}
	u := &models.AuthenticatedUser{
		ID:          p.UserID,
		Email:       sess.Email,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		RoleTitle:   title,
		AuthType:    models.AuthTypeEmail,
		Token:       sess.Token,
		IssuedAt:    now,
		ExpiresAt:   sess.ExpiresAt,
	}
	if p.Address != nil {
		a := *p.Address
		u.Address = &a
	}
	return u
}

func classifyProfileErr(err error, op string) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return failure.Wrap(err, failure.KindRoleSyncFailed, op, "")
	}
	return failure.Wrap(err, failure.KindNetworkError, op, "")
}

func copyResolution(in *models.Resolution) *models.Resolution {
	out := &models.Resolution{
		Warnings:     append([]models.Warning(nil), in.Warnings...),
		Bootstrapped: in.Bootstrapped,
	}
	if in.User != nil {
		u := *in.User
		if in.User.Address != nil {
			a := *in.User.Address
			u.Address = &a
		}
		out.User = &u
	}
	return out
}

func (r *Resolver) fail(ctx context.Context, span trace.Span, subject string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(failure.KindOf(err)))
	if r.logger != nil && !errors.Is(err, context.Canceled) {
		r.logger.InfoContext(ctx, "resolution failed", "subject", subject, "kind", string(failure.KindOf(err)), "error", err)
	}
	return err
}

func (r *Resolver) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	if r.logger != nil {
		r.logger.InfoContext(ctx, string(event), args...)
	}
	if r.auditPublisher == nil {
		return
	}
	e := audit.NewEvent(event, attrs.ExtractString(attributes, "address"))
	e.Reason = attrs.ExtractString(attributes, "reason")
	e.RequestID = attrs.ExtractString(attributes, "request_id")
	e.ActorID = requestcontext.Actor(ctx)
	e.Details = attrs.ToMap(attributes, "address", "reason", "request_id")
	_ = r.auditPublisher.Emit(ctx, e)
}
