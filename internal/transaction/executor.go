// Package transaction runs state-changing contract calls end to end:
// preconditions, submission, a bounded confirmation wait and receipt
// decoding.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"guardian/internal/contracts"
	"guardian/internal/platform/config"
	"guardian/internal/platform/metrics"
	"guardian/internal/wallet"
	"guardian/pkg/attrs"
	"guardian/pkg/failure"
	"guardian/pkg/platform/audit"
	"guardian/pkg/requestcontext"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NetworkGuard confirms the wallet is on the required chain.
type NetworkGuard interface {
	Ensure(ctx context.Context) error
}

// SignerSource exposes the active signer and the connection epoch.
type SignerSource interface {
	Signer() (wallet.Identity, uint64, error)
	Epoch() uint64
}

// ReceiptReader is the node surface needed to await confirmation.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Call is one state-changing operation. Submit performs the contract write
// and is only invoked once preconditions hold. Event names the log whose
// decoding is reported as Outcome.Event.
type Call struct {
	Method string
	Event  string
	Submit func(ctx context.Context) (*contracts.PendingTx, error)
}

// Outcome is the result of a submitted transaction. TxHash is always set
// once submission succeeded.
type Outcome struct {
	Success bool
	TxHash  common.Hash
	Receipt *types.Receipt
	Event   *contracts.Decoded
	Events  []contracts.DecodedLog
}

var (
	errEpochChanged = errors.New("wallet account or network changed while awaiting confirmation")
	errBlockCeiling = errors.New("confirmation block ceiling reached")
)

// Executor runs Calls. Safe for concurrent use.
type Executor struct {
	guard    NetworkGuard
	signer   SignerSource
	reader   ReceiptReader
	decoders *contracts.Decoders
	cfg      config.Transaction

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(e *Executor) {
		e.auditPublisher = publisher
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = mt
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// New builds an Executor. guard may be nil when no network requirement
// applies.
func New(guard NetworkGuard, signer SignerSource, reader ReceiptReader, decoders *contracts.Decoders, cfg config.Transaction, opts ...Option) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	e := &Executor{
		guard:    guard,
		signer:   signer,
		reader:   reader,
		decoders: decoders,
		cfg:      cfg,
		tracer:   otel.Tracer("guardian/transaction"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute checks preconditions, submits call and waits for its receipt.
//
// A revert returns the Outcome (Success false) together with a
// TransactionFailed error marked Reverted. A timeout, cancellation or
// wallet change during the wait returns ConfirmationTimeout: the outcome is
// unknown and the transaction may still be mined.
func (e *Executor) Execute(ctx context.Context, call Call) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "transaction.execute",
		trace.WithAttributes(attribute.String("tx.method", call.Method)))
	defer span.End()

	signer, epoch, err := e.signer.Signer()
	if err != nil {
		return nil, e.fail(span, err)
	}
	if e.guard != nil {
		if err := e.guard.Ensure(ctx); err != nil {
			return nil, e.fail(span, err)
		}
	}

	pending, err := call.Submit(ctx)
	if err != nil {
		e.metrics.IncTxOutcome(call.Method, "submit_failed")
		e.logAudit(ctx, audit.EventTxFailed,
			"address", signer.Address,
			"method", call.Method,
			"reason", failure.UserMessage(err),
			"stage", "submission",
		)
		return nil, e.fail(span, err)
	}
	e.metrics.IncTxSubmitted(call.Method)
	span.SetAttributes(attribute.String("tx.hash", pending.Hash.Hex()))
	e.logAudit(ctx, audit.EventTxSubmitted,
		"address", pending.From,
		"method", call.Method,
		"tx_hash", pending.Hash.Hex(),
	)

	outcome := &Outcome{TxHash: pending.Hash}
	started := time.Now()
	receipt, err := e.await(ctx, pending, epoch)
	e.metrics.ObserveConfirm(call.Method, started)
	if err != nil {
		e.metrics.IncTxOutcome(call.Method, "unknown")
		e.logAudit(ctx, audit.EventTxUnknown,
			"address", pending.From,
			"method", call.Method,
			"tx_hash", pending.Hash.Hex(),
			"reason", err.Error(),
		)
		timeout := failure.Wrap(err, failure.KindConfirmationTimeout, "transaction.confirm", "").WithTxHash(pending.Hash)
		return outcome, e.fail(span, timeout)
	}

	outcome.Receipt = receipt
	outcome.Events = e.decoders.DecodeAll(receipt.Logs)
	if n := contracts.CountUnrecognized(outcome.Events); n > 0 {
		e.metrics.AddUnrecognizedLogs(n)
		if e.logger != nil {
			e.logger.WarnContext(ctx, "receipt carried unrecognized logs",
				"tx_hash", pending.Hash.Hex(), "count", n)
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		e.metrics.IncTxOutcome(call.Method, "reverted")
		e.logAudit(ctx, audit.EventTxReverted,
			"address", pending.From,
			"method", call.Method,
			"tx_hash", pending.Hash.Hex(),
			"block", receipt.BlockNumber,
		)
		reverted := failure.New(failure.KindTransactionFailed, "transaction.confirm", "The transaction was reverted by the contract.").WithTxHash(pending.Hash)
		reverted.Reverted = true
		return outcome, e.fail(span, reverted)
	}

	outcome.Success = true
	if call.Event != "" {
		if dec, ok := contracts.First(outcome.Events, call.Event); ok {
			outcome.Event = &dec
		}
	}
	e.metrics.IncTxOutcome(call.Method, "confirmed")
	e.logAudit(ctx, audit.EventTxConfirmed,
		"address", pending.From,
		"method", call.Method,
		"tx_hash", pending.Hash.Hex(),
		"block", receipt.BlockNumber,
	)
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

// await polls for the receipt until it appears or a ceiling is hit. A
// missing receipt is normal; other read errors are retried until the
// deadline.
func (e *Executor) await(ctx context.Context, pending *contracts.PendingTx, epoch uint64) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if e.signer.Epoch() != epoch || pending.Epoch != epoch {
			return nil, errEpochChanged
		}
		receipt, err := e.reader.TransactionReceipt(waitCtx, pending.Hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil && e.logger != nil:
			e.logger.DebugContext(ctx, "receipt poll failed", "tx_hash", pending.Hash.Hex(), "error", err)
		}

		if e.cfg.MaxConfirmationBlocks > 0 {
			if head, err := e.reader.BlockNumber(waitCtx); err == nil && head >= pending.StartBlock+e.cfg.MaxConfirmationBlocks {
				return nil, fmt.Errorf("%w: head %d, submitted at %d", errBlockCeiling, head, pending.StartBlock)
			}
		}

		select {
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(failure.KindOf(err)))
	return err
}

func (e *Executor) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	if e.logger != nil {
		e.logger.InfoContext(ctx, string(event), args...)
	}
	if e.auditPublisher == nil {
		return
	}
	ev := audit.NewEvent(event, attrs.ExtractString(attributes, "address"))
	ev.Reason = attrs.ExtractString(attributes, "reason")
	ev.RequestID = attrs.ExtractString(attributes, "request_id")
	ev.TxHash = attrs.ExtractString(attributes, "tx_hash")
	ev.ActorID = requestcontext.Actor(ctx)
	ev.Details = attrs.ToMap(attributes, "address", "reason", "request_id", "tx_hash")
	_ = e.auditPublisher.Emit(ctx, ev)
}
