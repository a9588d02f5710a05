package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	audit "nexus/pkg/platform/audit"
	"nexus/pkg/platform/audit/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()
	event := audit.Event{
		Subject: subject,
		Action:  string(audit.EventTransferCreated),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventTransferCreated), events[0].Action)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	subject := uuid.NewString()
	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventTransferFailed),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), subject)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	subject := uuid.NewString()
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			Subject: subject,
			Action:  string(audit.EventTransferCreated),
		})
		require.NoError(t, err)
	}

	// Close should drain all events
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

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: "s", Action: string(audit.EventTransferCreated)}))
	events, err := store.ListBySubject(context.Background(), "s")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	subject := uuid.NewString()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{
				Subject: subject,
				Action:  string(audit.EventTransferCreated),
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	subject := uuid.NewString()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventTransferAccepted),
	}))

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	subject := uuid.NewString()
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		Subject:   subject,
		Action:    string(audit.EventTransferRejected),
		Timestamp: customTime,
	}))

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_MultipleEventsKeepOrder(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	subject := uuid.NewString()
	for _, action := range []audit.AuditEvent{
		audit.EventTransferCreated,
		audit.EventTransferReviewerAssigned,
		audit.EventTransferAccepted,
	} {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Subject: subject, Action: string(action)}))
	}

	result, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, string(audit.EventTransferCreated), result[0].Action)
	assert.Equal(t, string(audit.EventTransferReviewerAssigned), result[1].Action)
	assert.Equal(t, string(audit.EventTransferAccepted), result[2].Action)
}
