package domain

import (
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	dErrors "guardian/pkg/domain-errors"
)

// UserID identifies a managed-backend account. Wallet-only users get an ID
// derived from their address so the type is the same for both login paths.
type UserID uuid.UUID

// ParseUserID validates a non-nil UUID at trust boundaries.
func ParseUserID(s string) (UserID, error) {
	if s == "" || !utf8.ValidString(s) {
		return UserID{}, dErrors.New(dErrors.CodeInvalidInput, "user ID required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid user ID")
	}
	if u == uuid.Nil {
		return UserID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid user ID")
	}
	return UserID(u), nil
}

// NewUserID returns a random user ID.
func NewUserID() UserID {
	return UserID(uuid.New())
}

// WalletUserID derives a stable ID for a wallet-only user.
func WalletUserID(addr common.Address) UserID {
	return UserID(uuid.NewSHA1(uuid.NameSpaceOID, addr.Bytes()))
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id UserID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// ParseAddress validates a 20-byte hex address. Mixed-case input must carry
// a valid EIP-55 checksum; all-lower or all-upper input is accepted as is.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidInput, "invalid address")
	}
	addr := common.HexToAddress(s)
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if addr.Hex() != "0x"+body {
			return common.Address{}, dErrors.New(dErrors.CodeInvalidInput, "address checksum mismatch")
		}
	}
	if addr == (common.Address{}) {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidInput, "zero address")
	}
	return addr, nil
}

// ParseChainID parses a uint256 identifier (evidence or case) from its
// decimal form.
func ParseChainID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 78 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid identifier")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid identifier")
	}
	return v, nil
}

// MarshalText implements encoding.TextMarshaler.
func (id UserID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
