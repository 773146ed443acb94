// Package session persists the current AuthenticatedUser across restarts.
// Records are sealed at rest and re-validated on every load.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"guardian/internal/auth/models"
	"guardian/internal/platform/metrics"
	"guardian/pkg/domain"
	"guardian/pkg/failure"
	"guardian/pkg/platform/sentinel"

	"github.com/ethereum/go-ethereum/common"
)

// CurrentKey is the one well-known key holding the current session.
const CurrentKey = "guardian:session:current"

// RoleVerifier reads the registry role of a wallet.
type RoleVerifier interface {
	GetUserRole(ctx context.Context, user common.Address) (domain.Role, error)
}

// Store saves, loads and clears the current session.
type Store struct {
	storage  Storage
	cipher   *Cipher
	verifier RoleVerifier
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = mt
	}
}

// WithRoleVerifier makes Load confirm that wallet sessions still hold a
// registry role.
func WithRoleVerifier(v RoleVerifier) Option {
	return func(s *Store) {
		s.verifier = v
	}
}

// WithTTL caps how long a record lives in storage.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(storage Storage, c *Cipher, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		cipher:  c,
		ttl:     12 * time.Hour,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists u as the current session.
func (s *Store) Save(ctx context.Context, u *models.AuthenticatedUser) error {
	if err := u.Validate(); err != nil {
		return err
	}
	ttl := s.ttl
	if !u.ExpiresAt.IsZero() {
		if left := u.ExpiresAt.Sub(s.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	plain, err := encodeRecord(u)
	if err != nil {
		return err
	}
	sealed, err := s.cipher.Seal(plain, []byte(CurrentKey))
	if err != nil {
		return err
	}
	return s.storage.Put(ctx, CurrentKey, sealed, ttl)
}

// Load returns the persisted session, or nil when there is none. Records
// that cannot be decrypted, fail validation, have expired or belong to a
// wallet without a registry role are deleted and reported as nil.
//
// A registry read failure leaves the record in place and returns
// RoleSyncFailed, since the session may still be valid.
func (s *Store) Load(ctx context.Context) (*models.AuthenticatedUser, error) {
	sealed, err := s.storage.Get(ctx, CurrentKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncSessionLoad("empty")
		return nil, nil
	}
	if errors.Is(err, sentinel.ErrCorrupt) {
		return nil, s.discard(ctx, "unreadable", err)
	}
	if err != nil {
		return nil, err
	}

	plain, err := s.cipher.Open(sealed, []byte(CurrentKey))
	if err != nil {
		return nil, s.discard(ctx, "undecryptable", err)
	}
	u, err := decodeRecord(plain)
	if err != nil {
		return nil, s.discard(ctx, "invalid", err)
	}
	if u.Expired(s.now()) {
		return nil, s.discard(ctx, "expired", sentinel.ErrExpired)
	}

	if u.AuthType == models.AuthTypeWallet && s.verifier != nil {
		role, err := s.verifier.GetUserRole(ctx, *u.Address)
		if err != nil {
			s.metrics.IncSessionLoad("unverified")
			return nil, failure.Wrap(err, failure.KindRoleSyncFailed, "session.load", "")
		}
		if role.IsNone() {
			return nil, s.discard(ctx, "role_revoked", nil)
		}
	}
	s.metrics.IncSessionLoad("restored")
	return u, nil
}

// Clear removes the current session.
func (s *Store) Clear(ctx context.Context) error {
	return s.storage.Delete(ctx, CurrentKey)
}

func (s *Store) discard(ctx context.Context, reason string, cause error) error {
	s.metrics.IncSessionLoad(reason)
	if s.logger != nil {
		s.logger.WarnContext(ctx, "discarding persisted session", "reason", reason, "error", cause)
	}
	if err := s.storage.Delete(ctx, CurrentKey); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	return nil
}
