package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"
	"guardian/pkg/platform/sentinel"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultTokenTTL = 12 * time.Hour
	minPasswordLen  = 8
)

// Service is the managed backend API used by role resolution and the CLI.
type Service struct {
	store    Store
	tokens   *TokenService
	tokenTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, tokens *TokenService, opts ...Option) *Service {
	s := &Service{
		store:    store,
		tokens:   tokens,
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a password credential. The profile is written separately.
func (s *Service) Register(ctx context.Context, email, password string) (domain.UserID, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return domain.UserID{}, dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if len(password) < minPasswordLen {
		return domain.UserID{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	hash, err := HashPassword(password)
	if err != nil {
		return domain.UserID{}, err
	}
	cred := &Credential{
		UserID:       domain.NewUserID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.UserID{}, dErrors.Wrap(err, dErrors.CodeConflict, "email already registered")
		}
		return domain.UserID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register credential")
	}
	return cred.UserID, nil
}

// Authenticate checks a password and issues a session token. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	email = NormalizeEmail(email)
	cred, err := s.store.FindCredential(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	if err := VerifyPassword(password, cred.PasswordHash); err != nil {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "password rejected", "user_id", cred.UserID)
		}
		return nil, err
	}
	token, expiresAt, err := s.tokens.Issue(cred.UserID, cred.Email, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}
	return &Session{UserID: cred.UserID, Email: cred.Email, Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateSession returns the user behind a session token.
func (s *Service) ValidateSession(_ context.Context, token string) (domain.UserID, error) {
	return s.tokens.UserIDFromToken(token)
}

func (s *Service) FindProfile(ctx context.Context, id domain.UserID) (*Profile, error) {
	p, err := s.store.FindProfile(ctx, id)
	if err != nil {
		return nil, translate(err, "profile")
	}
	return p, nil
}

func (s *Service) FindProfileByAddress(ctx context.Context, addr common.Address) (*Profile, error) {
	p, err := s.store.FindProfileByAddress(ctx, addr)
	if err != nil {
		return nil, translate(err, "profile")
	}
	return p, nil
}

// SaveProfile validates and upserts p, stamping timestamps.
func (s *Service) SaveProfile(ctx context.Context, p *Profile) error {
	s.stamp(p)
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return translate(err, "profile")
	}
	return nil
}

// CreateProfileIfFirst provisions p only if the backend has no profiles.
func (s *Service) CreateProfileIfFirst(ctx context.Context, p *Profile) (bool, error) {
	s.stamp(p)
	if err := p.Validate(); err != nil {
		return false, err
	}
	created, err := s.store.CreateProfileIfFirst(ctx, p)
	if err != nil {
		return false, translate(err, "profile")
	}
	return created, nil
}

func (s *Service) CountProfiles(ctx context.Context) (int, error) {
	n, err := s.store.CountProfiles(ctx)
	if err != nil {
		return 0, translate(err, "profile")
	}
	return n, nil
}

func (s *Service) stamp(p *Profile) {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.RoleTitle == "" {
		p.RoleTitle = p.Role.Title()
	}
}

func translate(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" already exists")
	case errors.Is(err, sentinel.ErrCorrupt):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, what+" record is invalid")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "backend "+what+" request failed")
	}
}
