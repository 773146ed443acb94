package domain

import (
	"fmt"
	"strings"
)

// Role is the actor tier used by both the managed backend and the on-chain
// registry. Values are ordered; Court is the superuser tier.
type Role uint8

const (
	RoleNone Role = iota
	RoleOfficer
	RoleForensic
	RoleLawyer
	RoleCourt
)

// chainRoles is the only mapping between registry uint8 values and Role.
// Every component that reads or writes the registry goes through
// RoleFromChain / Role.ChainValue.
var chainRoles = map[uint8]Role{
	0: RoleNone,
	1: RoleOfficer,
	2: RoleForensic,
	3: RoleLawyer,
	4: RoleCourt,
}

var roleNames = map[Role]string{
	RoleNone:     "none",
	RoleOfficer:  "officer",
	RoleForensic: "forensic",
	RoleLawyer:   "lawyer",
	RoleCourt:    "court",
}

var roleTitles = map[Role]string{
	RoleNone:     "Unassigned",
	RoleOfficer:  "Police Officer",
	RoleForensic: "Forensic Analyst",
	RoleLawyer:   "Legal Counsel",
	RoleCourt:    "Court Official",
}

// RoleFromChain decodes a registry value. Unknown values are an error rather
// than None so a contract upgrade cannot silently demote anyone.
func RoleFromChain(v uint8) (Role, error) {
	r, ok := chainRoles[v]
	if !ok {
		return RoleNone, fmt.Errorf("unknown registry role value: %d", v)
	}
	return r, nil
}

// ChainValue encodes r for the registry.
func (r Role) ChainValue() uint8 {
	for v, role := range chainRoles {
		if role == r {
			return v
		}
	}
	return 0
}

// ParseRole validates a role name as stored by the managed backend.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role: %q", s)
}

// String returns the canonical role name.
func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Title returns the default display title for the role.
func (r Role) Title() string {
	if t, ok := roleTitles[r]; ok {
		return t
	}
	return roleTitles[RoleNone]
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	_, ok := roleNames[r]
	return ok
}

// IsNone reports whether r grants nothing.
func (r Role) IsNone() bool {
	return r == RoleNone
}

// IsSuperuser reports whether r bypasses per-permission checks.
func (r Role) IsSuperuser() bool {
	return r == RoleCourt
}

// IsDowngradeTo reports whether moving from r to next loses authority: next
// is None or unknown, or it lacks any permission r holds. Officer to Lawyer
// is a downgrade even though Lawyer sorts higher.
func (r Role) IsDowngradeTo(next Role) bool {
	if next == r {
		return false
	}
	if next.IsNone() || !next.IsValid() {
		return true
	}
	for _, p := range r.Permissions() {
		if !next.Can(p) {
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid role: %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
