package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesAsync(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 1)
	unsub := bus.Subscribe(SessionStatus, func(e Event) {
		got <- e
	})
	defer unsub()

	bus.Publish(Event{
		Type:      SessionStatus,
		SessionID: "ses-1",
		Data:      SessionStatusData{SessionID: "ses-1", Status: "running"},
	})

	select {
	case e := <-got:
		assert.Equal(t, SessionStatus, e.Type)
		assert.Equal(t, "ses-1", e.SessionID)
		data, ok := e.Data.(SessionStatusData)
		require.True(t, ok)
		assert.Equal(t, "running", string(data.Status))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeFiltersOtherTypes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var statuses, messages int32
	bus.Subscribe(SessionStatus, func(e Event) { atomic.AddInt32(&statuses, 1) })
	bus.Subscribe(MessageCreated, func(e Event) { atomic.AddInt32(&messages, 1) })

	bus.PublishSync(Event{Type: SessionStatus})
	bus.PublishSync(Event{Type: SessionStatus})
	bus.PublishSync(Event{Type: MessageCreated})
	bus.PublishSync(Event{Type: PreviewStatus})

	assert.Equal(t, int32(2), atomic.LoadInt32(&statuses))
	assert.Equal(t, int32(1), atomic.LoadInt32(&messages))
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.SubscribeAll(func(e Event) { atomic.AddInt32(&count, 1) })
	defer unsub()

	bus.PublishSync(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: ApprovalRequired})
	bus.PublishSync(Event{Type: PreviewStatus})

	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestSubscribeSessionScopesDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mine, other int32
	unsub := bus.SubscribeSession("ses-1", func(e Event) { atomic.AddInt32(&mine, 1) })
	defer unsub()
	bus.SubscribeSession("ses-2", func(e Event) { atomic.AddInt32(&other, 1) })

	bus.PublishSync(Event{Type: SessionStatus, SessionID: "ses-1"})
	bus.PublishSync(Event{Type: MessageCreated, SessionID: "ses-1"})
	bus.PublishSync(Event{Type: SessionStatus, SessionID: "ses-2"})

	assert.Equal(t, int32(2), atomic.LoadInt32(&mine))
	assert.Equal(t, int32(1), atomic.LoadInt32(&other))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(ApprovalRequired, func(e Event) { atomic.AddInt32(&count, 1) })

	bus.PublishSync(Event{Type: ApprovalRequired})
	require.Equal(t, int32(1), atomic.LoadInt32(&count))

	unsub()
	bus.PublishSync(Event{Type: ApprovalRequired})
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))

	// Unsubscribing twice is harmless.
	unsub()
}

func TestPublishSyncRunsInline(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var order []EventType
	var mu sync.Mutex
	record := func(e Event) {
		mu.Lock()
		order = append(order, e.Type)
		mu.Unlock()
	}
	bus.Subscribe(SessionCreated, record)
	bus.Subscribe(SessionDeleted, record)

	bus.PublishSync(Event{Type: SessionCreated})
	bus.PublishSync(Event{Type: SessionDeleted})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{SessionCreated, SessionDeleted}, order)
}

func TestMultipleSubscribersFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(MessageCreated, func(e Event) { atomic.AddInt32(&count, 1) })
	}

	bus.PublishSync(Event{Type: MessageCreated})
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: SessionUpdated})
		bus.PublishSync(Event{Type: SessionUpdated})
	})
}

func TestCloseDropsSubscribers(t *testing.T) {
	bus := NewBus()

	var count int32
	bus.Subscribe(SessionCreated, func(e Event) { atomic.AddInt32(&count, 1) })

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	bus.PublishSync(Event{Type: SessionCreated})
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))

	// Subscribing after close hands back a no-op unsubscribe.
	unsub := bus.SubscribeSession("ses-1", func(e Event) {})
	unsub()
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.SubscribeSession("ses-1", func(e Event) {})
			for j := 0; j < 20; j++ {
				bus.Publish(Event{Type: SessionStatus, SessionID: "ses-1"})
			}
			unsub()
		}()
	}
	wg.Wait()
}
