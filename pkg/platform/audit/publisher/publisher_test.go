package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	audit "guardian/pkg/platform/audit"
	"guardian/pkg/platform/audit/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subject = "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventWalletConnected),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventWalletConnected), events[0].Action)
	assert.Equal(t, audit.CategorySecurity, events[0].Category, "category derived from action")
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))

	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventTxConfirmed),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), subject)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
	pub.Close()
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			Subject: subject,
			Action:  string(audit.EventTxSubmitted),
		}))
	}

	pub.Close()

	events, err := store.ListBySubject(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterCloseWritesThrough(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	pub.Close()
	pub.Close()

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: subject, Action: string(audit.EventLoggedOut)}))
	assert.Equal(t, 1, store.CountAction(audit.EventLoggedOut))
}

func TestPublisher_BufferFull(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{release: block}
	pub := NewPublisher(store, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var full int
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{Subject: subject, Action: string(audit.EventTxSubmitted)})
			if errors.Is(err, ErrBufferFull) {
				mu.Lock()
				full++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(block)
	pub.Close()

	assert.Positive(t, full, "a one-slot inbox with a stalled worker must reject some events")
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: subject, Action: string(audit.EventLoginSucceeded)}))

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		Subject:   subject,
		Action:    string(audit.EventLoginSucceeded),
		Timestamp: customTime,
	}))

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_DifferentSubjects(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	other := "0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2"

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: subject, Action: string(audit.EventRoleMismatch)}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: other, Action: string(audit.EventOwnerBootstrapped)}))

	first, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, string(audit.EventRoleMismatch), first[0].Action)

	second, err := pub.List(context.Background(), other)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, audit.CategoryCompliance, second[0].Category)
}

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	events  []audit.Event
}

func (s *blockingStore) Append(_ context.Context, e audit.Event) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *blockingStore) ListBySubject(context.Context, string) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...), nil
}
