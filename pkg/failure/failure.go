// Package failure defines the closed taxonomy of identity and transaction
// failures surfaced to callers.
//
// Raw provider, node and backend errors never cross a component boundary
// unclassified: they are wrapped into an *Error whose Kind is one of the
// constants below. The underlying error is kept for audit logging but the
// user-facing text comes from Message (or the Kind default).
package failure

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is one entry of the failure taxonomy.
type Kind string

const (
	// KindProviderUnavailable means no wallet provider is attached.
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindUserRejected means the user explicitly declined a wallet request.
	KindUserRejected Kind = "user_rejected"

	// KindWrongNetwork means the wallet is on a different chain than required.
	// Recoverable through NetworkGuard.RequestSwitch.
	KindWrongNetwork Kind = "wrong_network"

	// KindSignerRequired is a precondition violation: a state-changing call
	// was attempted without a connected signer.
	KindSignerRequired Kind = "signer_required"

	// KindTransactionFailed covers submission errors and reverts.
	KindTransactionFailed Kind = "transaction_failed"

	// KindConfirmationTimeout means the outcome is unknown: the transaction
	// may still be included later.
	KindConfirmationTimeout Kind = "confirmation_timeout"

	// KindProfileNotFound means the backend has no profile for the user.
	KindProfileNotFound Kind = "profile_not_found"

	// KindWalletNotAuthorized means the address holds no usable role.
	KindWalletNotAuthorized Kind = "wallet_not_authorized"

	// KindRoleSyncFailed means reconciliation could not complete.
	KindRoleSyncFailed Kind = "role_sync_failed"

	// KindNetworkError is a transport-level failure, or any provider error
	// outside the recognised code set.
	KindNetworkError Kind = "network_error"
)

var defaultMessages = map[Kind]string{
	KindProviderUnavailable: "No wallet provider was found. Install or unlock a wallet and try again.",
	KindUserRejected:        "The request was rejected in the wallet.",
	KindWrongNetwork:        "The wallet is connected to the wrong network.",
	KindSignerRequired:      "Connect a wallet before performing this action.",
	KindTransactionFailed:   "The transaction failed.",
	KindConfirmationTimeout: "The transaction was submitted but its confirmation is still pending.",
	KindProfileNotFound:     "No profile exists for this account.",
	KindWalletNotAuthorized: "This wallet is not authorized to use the system.",
	KindRoleSyncFailed:      "Your role could not be verified. Try again shortly.",
	KindNetworkError:        "A network error occurred.",
}

// DefaultMessage returns the user-facing text for a kind.
func (k Kind) DefaultMessage() string {
	if msg, ok := defaultMessages[k]; ok {
		return msg
	}
	return defaultMessages[KindNetworkError]
}

// IsUnknownOutcome reports whether the kind means "may still have happened".
func (k Kind) IsUnknownOutcome() bool {
	return k == KindConfirmationTimeout
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // component operation, e.g. "wallet.connect"
	Message string
	// TxHash is set whenever a transaction was submitted, even on failure.
	TxHash common.Hash
	// Reverted distinguishes an on-chain revert from a submission failure.
	Reverted bool
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.DefaultMessage()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HasTxHash reports whether a transaction hash is attached.
func (e *Error) HasTxHash() bool {
	return e.TxHash != (common.Hash{})
}

// New creates a failure without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(err error, kind Kind, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithTxHash returns a copy of e carrying hash.
func (e *Error) WithTxHash(hash common.Hash) *Error {
	cp := *e
	cp.TxHash = hash
	return &cp
}

// As extracts the outermost *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindNetworkError for unclassified errors.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindNetworkError
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	fe, ok := As(err)
	return ok && fe.Kind == kind
}

// TxHashOf returns the transaction hash attached to err, if any.
func TxHashOf(err error) (common.Hash, bool) {
	fe, ok := As(err)
	if !ok || !fe.HasTxHash() {
		return common.Hash{}, false
	}
	return fe.TxHash, true
}

// UserMessage renders err for display: the kind's message plus the
// transaction hash when one exists.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	fe, ok := As(err)
	if !ok {
		return KindNetworkError.DefaultMessage()
	}
	msg := fe.Message
	if msg == "" {
		msg = fe.Kind.DefaultMessage()
	}
	if fe.HasTxHash() {
		msg = fmt.Sprintf("%s (transaction %s)", msg, fe.TxHash.Hex())
	}
	return msg
}
