package backend

import (
	"context"

	"guardian/pkg/domain"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists credentials and profiles. Lookups that find nothing return
// sentinel.ErrNotFound; duplicate emails, IDs or addresses return
// sentinel.ErrConflict.
type Store interface {
	CreateCredential(ctx context.Context, c *Credential) error
	FindCredential(ctx context.Context, email string) (*Credential, error)

	FindProfile(ctx context.Context, id domain.UserID) (*Profile, error)
	FindProfileByAddress(ctx context.Context, addr common.Address) (*Profile, error)
	// SaveProfile inserts or replaces the profile keyed by UserID.
	SaveProfile(ctx context.Context, p *Profile) error
	// CreateProfileIfFirst inserts p only when no profile exists yet, and
	// reports whether it did. Concurrent callers see exactly one success.
	CreateProfileIfFirst(ctx context.Context, p *Profile) (bool, error)
	CountProfiles(ctx context.Context) (int, error)
}
