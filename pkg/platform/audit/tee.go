package audit

import (
	"context"
	"errors"
	"fmt"
)

// Sink receives a copy of every appended event. Sinks are write-only; reads
// go to the primary store.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

type tee struct {
	primary Store
	sinks   []Sink
}

// Tee returns a Store that appends to primary and then to every sink.
// A primary failure aborts; sink failures are joined and returned after all
// sinks have been attempted.
func Tee(primary Store, sinks ...Sink) Store {
	return &tee{primary: primary, sinks: sinks}
}

func (t *tee) Append(ctx context.Context, event Event) error {
	if err := t.primary.Append(ctx, event); err != nil {
		return err
	}
	var errs []error
	for _, s := range t.sinks {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("audit sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (t *tee) ListBySubject(ctx context.Context, subject string) ([]Event, error) {
	return t.primary.ListBySubject(ctx, subject)
}
