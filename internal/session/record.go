package session

import (
	"encoding/json"
	"fmt"
	"time"

	"guardian/internal/auth/models"
	"guardian/pkg/domain"
	"guardian/pkg/platform/sentinel"
)

// record is the persisted form of an AuthenticatedUser. Addresses are kept
// in checksummed form and re-validated on load.
type record struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	RoleTitle   string    `json:"role_title"`
	Address     string    `json:"address,omitempty"`
	AuthType    string    `json:"auth_type"`
	Token       string    `json:"token,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func encodeRecord(u *models.AuthenticatedUser) ([]byte, error) {
	r := record{
		ID:          u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role.String(),
		RoleTitle:   u.RoleTitle,
		AuthType:    string(u.AuthType),
		Token:       u.Token,
		IssuedAt:    u.IssuedAt,
		ExpiresAt:   u.ExpiresAt,
	}
	if u.Address != nil {
		r.Address = u.Address.Hex()
	}
	return json.Marshal(r)
}

// decodeRecord parses and structurally validates a record. Every failure
// wraps sentinel.ErrCorrupt.
func decodeRecord(b []byte) (*models.AuthenticatedUser, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	id, err := domain.ParseUserID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	role, err := domain.ParseRole(r.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	u := &models.AuthenticatedUser{
		ID:          id,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Role:        role,
		RoleTitle:   r.RoleTitle,
		AuthType:    models.AuthType(r.AuthType),
		Token:       r.Token,
		IssuedAt:    r.IssuedAt,
		ExpiresAt:   r.ExpiresAt,
	}
	if r.Address != "" {
		addr, err := domain.ParseAddress(r.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
		}
		if addr.Hex() != r.Address {
			return nil, fmt.Errorf("%w: address not checksummed", sentinel.ErrCorrupt)
		}
		u.Address = &addr
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	return u, nil
}
