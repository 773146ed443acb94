package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	audit "guardian/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the inbox is saturated.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
//
// In async mode events are queued to a bounded inbox drained by a single
// worker; Close drains whatever is queued before returning.
type Publisher struct {
	store audit.Store
	now   func() time.Time

	inbox  chan audit.Event
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	onErr  func(error)
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with an inbox of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan audit.Event, n)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithErrorHandler receives store errors raised by the async worker.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Publisher) {
		p.onErr = fn
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, base audit.Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = p.now()
	}
	if base.Category == "" {
		base.Category = audit.AuditEvent(base.Action).Category()
	}
	if p.inbox == nil {
		return p.store.Append(ctx, base)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.store.Append(ctx, base)
	}
	select {
	case p.inbox <- base:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close stops accepting async events and waits for the inbox to drain.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.inbox {
		if err := p.store.Append(context.Background(), event); err != nil && p.onErr != nil {
			p.onErr(err)
		}
	}
}
