// Package models holds the identity types shared by role resolution, the
// auth session and session persistence.
package models

import (
	"fmt"
	"strings"
	"time"

	"guardian/pkg/domain"
	dErrors "guardian/pkg/domain-errors"

	"github.com/ethereum/go-ethereum/common"
)

// AuthType records which path signed the user in.
type AuthType string

const (
	AuthTypeEmail  AuthType = "email"
	AuthTypeWallet AuthType = "wallet"
)

func (t AuthType) IsValid() bool {
	return t == AuthTypeEmail || t == AuthTypeWallet
}

// AuthenticatedUser is the single current actor.
type AuthenticatedUser struct {
	ID          domain.UserID   `json:"id"`
	Email       string          `json:"email,omitempty"`
	DisplayName string          `json:"display_name"`
	Role        domain.Role     `json:"role"`
	RoleTitle   string          `json:"role_title"`
	Address     *common.Address `json:"address,omitempty"`
	AuthType    AuthType        `json:"auth_type"`
	// Token is the backend session token for email logins.
	Token     string    `json:"token,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate checks structure: required fields, accepted enum values and the
// wallet/address pairing.
func (u *AuthenticatedUser) Validate() error {
	if u == nil {
		return dErrors.New(dErrors.CodeValidation, "user required")
	}
	if u.ID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user ID required")
	}
	if strings.TrimSpace(u.DisplayName) == "" {
		return dErrors.New(dErrors.CodeValidation, "display name required")
	}
	if !u.Role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown role")
	}
	if !u.AuthType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown auth type")
	}
	if u.AuthType == AuthTypeWallet {
		if u.Address == nil || *u.Address == (common.Address{}) {
			return dErrors.New(dErrors.CodeValidation, "wallet session requires an address")
		}
		if u.Role.IsNone() {
			return dErrors.New(dErrors.CodeValidation, "wallet session requires a role")
		}
	}
	return nil
}

// Expired reports whether u is past its expiry at now. A zero expiry never
// expires.
func (u *AuthenticatedUser) Expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && !now.Before(u.ExpiresAt)
}

// Can reports whether u's role holds p.
func (u *AuthenticatedUser) Can(p domain.Permission) bool {
	return u != nil && u.Role.Can(p)
}

// Subject is the audit subject: the wallet address for wallet users, the
// user ID otherwise.
func (u *AuthenticatedUser) Subject() string {
	if u == nil {
		return ""
	}
	if u.Address != nil {
		return u.Address.Hex()
	}
	return u.ID.String()
}

// WarningCode identifies a non-fatal resolution warning.
type WarningCode string

const (
	WarningRoleMismatch       WarningCode = "role_mismatch"
	WarningBackendUnavailable WarningCode = "backend_unavailable"
	WarningProfileNotSaved    WarningCode = "profile_not_saved"
	WarningSessionNotSaved    WarningCode = "session_not_saved"
)

// Warning is returned alongside a successful resolution.
type Warning struct {
	Code    WarningCode
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// Resolution is the output of role resolution.
type Resolution struct {
	User     *AuthenticatedUser
	Warnings []Warning
	// Bootstrapped is set when this resolution provisioned the first Court
	// account (registry owner or first backend user).
	Bootstrapped bool
}

// ShortAddress renders addr as 0x1234…abcd for display names.
func ShortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}
