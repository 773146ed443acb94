// Package backend is the managed identity backend: password credentials,
// profiles and session tokens.
package backend

import (
	"strings"
	"time"

	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"

	"github.com/ethereum/go-ethereum/common"
)

// Profile is the backend's record of a user. Address is set for users who
// sign in with a wallet.
type Profile struct {
	UserID      domain.UserID
	Email       string
	DisplayName string
	Role        domain.Role
	RoleTitle   string
	Address     *common.Address
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the fields every stored profile must carry.
func (p *Profile) Validate() error {
	if p.UserID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "profile user ID required")
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return dErrors.New(dErrors.CodeValidation, "profile display name required")
	}
	if !p.Role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "profile role invalid")
	}
	if p.Address != nil && *p.Address == (common.Address{}) {
		return dErrors.New(dErrors.CodeValidation, "profile address must not be zero")
	}
	return nil
}

// Credential is a password login. PasswordHash is a bcrypt hash.
type Credential struct {
	UserID       domain.UserID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Session is what a successful password login returns.
type Session struct {
	UserID    domain.UserID
	Email     string
	Token     string
	ExpiresAt time.Time
}

// NormalizeEmail lowercases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
