package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
)

func newTestClient(hub *Hub) *Client {
	return NewClient(hub, nil, domain.Actor{ID: "u-1", Role: domain.RoleHandler}, zap.NewNop())
}

func drain(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case data := <-c.send:
		var event events.Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return events.Event{}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	viewer := newTestClient(hub)
	other := newTestClient(hub)
	hub.Subscribe(viewer, "t-1")
	hub.Subscribe(other, "t-2")

	hub.Publish("t-1", events.Event{ID: "e-1", Type: events.EventTicketStatusChanged, TicketID: "t-1"})

	event := drain(t, viewer)
	assert.Equal(t, "e-1", event.ID)
	assert.Equal(t, "t-1", event.TicketID)
	assert.Empty(t, other.send, "events stay scoped to the ticket group")
}

func TestPublishToEmptyGroupIsNoOp(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Publish("t-9", events.Event{ID: "e-1", TicketID: "t-9"})
	assert.Equal(t, 0, hub.SubscriberCount("t-9"))
}

func TestClientCanJoinMultipleGroups(t *testing.T) {
	hub := NewHub(zap.NewNop())
	viewer := newTestClient(hub)
	hub.Subscribe(viewer, "t-1")
	hub.Subscribe(viewer, "t-2")

	hub.Publish("t-1", events.Event{ID: "e-1", TicketID: "t-1"})
	hub.Publish("t-2", events.Event{ID: "e-2", TicketID: "t-2"})

	assert.Equal(t, "e-1", drain(t, viewer).ID)
	assert.Equal(t, "e-2", drain(t, viewer).ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())
	viewer := newTestClient(hub)
	hub.Subscribe(viewer, "t-1")
	hub.Unsubscribe(viewer, "t-1")

	hub.Publish("t-1", events.Event{ID: "e-1", TicketID: "t-1"})
	assert.Empty(t, viewer.send)
	assert.Equal(t, 0, hub.SubscriberCount("t-1"))
}

func TestDisconnectLeavesAllGroups(t *testing.T) {
	hub := NewHub(zap.NewNop())
	viewer := newTestClient(hub)
	stayer := newTestClient(hub)
	hub.Subscribe(viewer, "t-1")
	hub.Subscribe(viewer, "t-2")
	hub.Subscribe(stayer, "t-1")

	hub.Disconnect(viewer)

	assert.Equal(t, 1, hub.SubscriberCount("t-1"), "other viewers keep their subscription")
	assert.Equal(t, 0, hub.SubscriberCount("t-2"))

	_, ok := <-viewer.send
	assert.False(t, ok, "disconnect closes the send channel")
}

func TestSlowConsumerIsSkippedNotBlocked(t *testing.T) {
	hub := NewHub(zap.NewNop())
	slow := newTestClient(hub)
	hub.Subscribe(slow, "t-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBufferSize+10; i++ {
			hub.Publish("t-1", events.Event{TicketID: "t-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full send buffer")
	}
	assert.Len(t, slow.send, sendBufferSize, "overflow is dropped, not queued")
}

func TestEnqueueAfterDisconnectDropsSilently(t *testing.T) {
	hub := NewHub(zap.NewNop())
	viewer := newTestClient(hub)
	hub.Subscribe(viewer, "t-1")

	hub.Disconnect(viewer)

	// a publisher holding a pre-disconnect snapshot must not panic on the
	// closed channel
	assert.NotPanics(t, func() {
		assert.False(t, viewer.enqueue([]byte(`{}`)))
	})
	assert.NotPanics(t, func() { hub.Disconnect(viewer) })
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(zap.NewNop())
	viewer := newTestClient(hub)
	hub.Subscribe(viewer, "t-1")

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() {
		finished <- hub.Run(ctx)
	}()
	cancel()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	_, ok := <-viewer.send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.SubscriberCount("t-1"))
}

func TestAttachDispatcherForwardsTicketEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())
	dispatcher := events.NewInMemoryDispatcher()
	hub.AttachDispatcher(dispatcher)

	viewer := newTestClient(hub)
	hub.Subscribe(viewer, "t-1")

	err := dispatcher.Publish(context.Background(), events.Event{
		ID:       "e-1",
		Type:     events.EventTicketMessageAdded,
		TicketID: "t-1",
	})
	require.NoError(t, err)

	event := drain(t, viewer)
	assert.Equal(t, events.EventTicketMessageAdded, event.Type)
}
