package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, storages and chain readers
// return these (optionally wrapped) so services can translate them into domain
// errors or failure kinds.
//
// - ErrNotFound: record, profile or session does not exist
// - ErrConflict: a write lost against an existing record
// - ErrExpired: persisted session is past its expiry
// - ErrCorrupt: persisted bytes could not be decrypted or decoded
// - ErrUnavailable: backend or node temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrExpired     = errors.New("expired")
	ErrCorrupt     = errors.New("corrupt record")
	ErrUnavailable = errors.New("unavailable")
)
