// Package consumer reads the audit topic and materializes events into a
// queryable store.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	audit "guardian/pkg/platform/audit"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Store receives materialized events. AppendWithID must be idempotent on ID.
type Store interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// Materializer consumes the audit topic as part of a consumer group.
type Materializer struct {
	client *kgo.Client
	store  Store
	logger *slog.Logger
}

// New joins group and consumes topic from the start.
func New(brokers []string, group, topic string, store Store, logger *slog.Logger) (*Materializer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{client: client, store: store, logger: logger}, nil
}

// Run polls until ctx is cancelled. Offsets are committed after each batch has
// been written, so a crash replays at most one batch and the idempotent store
// absorbs the duplicates.
func (m *Materializer) Run(ctx context.Context) error {
	for {
		fetches := m.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if !errors.Is(err, context.Canceled) {
				fetchErr = errors.Join(fetchErr, fmt.Errorf("fetch %s/%d: %w", topic, partition, err))
			}
		})
		if fetchErr != nil {
			return fetchErr
		}

		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			handleErr = m.Handle(ctx, r)
		})
		if handleErr != nil {
			return handleErr
		}
		if err := m.client.CommitUncommittedOffsets(ctx); err != nil {
			return fmt.Errorf("commit offsets: %w", err)
		}
	}
}

// Handle writes one record. Malformed payloads are logged and skipped so they
// cannot block the partition.
func (m *Materializer) Handle(ctx context.Context, r *kgo.Record) error {
	var event audit.Event
	if err := json.Unmarshal(r.Value, &event); err != nil {
		m.logger.Error("CRITICAL: failed to unmarshal audit payload",
			"topic", r.Topic,
			"partition", r.Partition,
			"offset", r.Offset,
			"error", err,
		)
		return nil
	}
	if err := m.store.AppendWithID(ctx, RecordID(r), event); err != nil {
		return fmt.Errorf("materialize audit event: %w", err)
	}
	return nil
}

// RecordID derives a stable event ID from the record's log position.
func RecordID(r *kgo.Record) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "kafka://%s/%d/%d", r.Topic, r.Partition, r.Offset))
}

// Close leaves the group and closes the client.
func (m *Materializer) Close() {
	m.client.Close()
}
