package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers events with evidentiary significance: role
	// bootstraps, confirmed ledger transactions, profile provisioning.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers wallet and session state changes, rejections,
	// role mismatches and downgrades.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory     `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject"` // user ID or wallet address
	Action    string            `json:"action"`
	Reason    string            `json:"reason,omitempty"`
	Severity  Severity          `json:"severity,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	TxHash    string            `json:"tx_hash,omitempty"`
	ChainID   uint64            `json:"chain_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

type AuditEvent string

const (
	// Wallet events
	EventWalletConnected     AuditEvent = "wallet_connected"
	EventWalletDisconnected  AuditEvent = "wallet_disconnected"
	EventWalletRejected      AuditEvent = "wallet_request_rejected"
	EventAccountsChanged     AuditEvent = "wallet_accounts_changed"
	EventChainChanged        AuditEvent = "wallet_chain_changed"
	EventNetworkSwitched     AuditEvent = "network_switched"
	EventNetworkSwitchFailed AuditEvent = "network_switch_failed"
	EventNetworkAdded        AuditEvent = "network_added"

	// Identity events
	EventLoginSucceeded    AuditEvent = "login_succeeded"
	EventLoginFailed       AuditEvent = "login_failed"
	EventLoggedOut         AuditEvent = "logged_out"
	EventSessionRestored   AuditEvent = "session_restored"
	EventSessionRejected   AuditEvent = "session_rejected"
	EventRoleMismatch      AuditEvent = "role_mismatch"
	EventRoleDowngraded    AuditEvent = "role_downgraded"
	EventRoleUpgraded      AuditEvent = "role_upgraded"
	EventOwnerBootstrapped AuditEvent = "owner_bootstrapped"
	EventAdminProvisioned  AuditEvent = "admin_provisioned"
	EventPermissionDenied  AuditEvent = "permission_denied"

	// Transaction events
	EventTxSubmitted AuditEvent = "tx_submitted"
	EventTxConfirmed AuditEvent = "tx_confirmed"
	EventTxReverted  AuditEvent = "tx_reverted"
	EventTxFailed    AuditEvent = "tx_failed"
	EventTxUnknown   AuditEvent = "tx_outcome_unknown"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventOwnerBootstrapped: CategoryCompliance,
	EventAdminProvisioned:  CategoryCompliance,
	EventTxConfirmed:       CategoryCompliance,
	EventTxReverted:        CategoryCompliance,

	EventWalletConnected:     CategorySecurity,
	EventWalletDisconnected:  CategorySecurity,
	EventWalletRejected:      CategorySecurity,
	EventAccountsChanged:     CategorySecurity,
	EventChainChanged:        CategorySecurity,
	EventNetworkSwitchFailed: CategorySecurity,
	EventLoginSucceeded:      CategorySecurity,
	EventLoginFailed:         CategorySecurity,
	EventLoggedOut:           CategorySecurity,
	EventSessionRejected:     CategorySecurity,
	EventRoleMismatch:        CategorySecurity,
	EventRoleDowngraded:      CategorySecurity,
	EventRoleUpgraded:        CategorySecurity,
	EventPermissionDenied:    CategorySecurity,
	EventTxFailed:            CategorySecurity,
	EventTxUnknown:           CategorySecurity,

	EventNetworkSwitched: CategoryOperations,
	EventNetworkAdded:    CategoryOperations,
	EventSessionRestored: CategoryOperations,
	EventTxSubmitted:     CategoryOperations,
}

var eventSeverities = map[AuditEvent]Severity{
	EventRoleMismatch:        SeverityWarning,
	EventWalletRejected:      SeverityWarning,
	EventNetworkSwitchFailed: SeverityWarning,
	EventLoginFailed:         SeverityWarning,
	EventSessionRejected:     SeverityWarning,
	EventTxFailed:            SeverityWarning,
	EventTxUnknown:           SeverityWarning,
	EventPermissionDenied:    SeverityWarning,
	EventRoleDowngraded:      SeverityCritical,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Severity returns the default severity for this audit event.
func (e AuditEvent) Severity() Severity {
	if sev, ok := eventSeverities[e]; ok {
		return sev
	}
	return SeverityInfo
}

// NewEvent builds an Event with category and severity filled from the
// event table.
func NewEvent(action AuditEvent, subject string) Event {
	return Event{
		Category: action.Category(),
		Action:   string(action),
		Subject:  subject,
		Severity: action.Severity(),
	}
}
