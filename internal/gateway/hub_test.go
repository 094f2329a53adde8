package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/fanout"
	"chatcore/internal/models"
)

type fakePresence struct {
	registered   []string
	unregistered []string
}

func (f *fakePresence) RegisterConnection(ctx context.Context, userID string, binding models.SessionBinding) error {
	f.registered = append(f.registered, userID)
	return nil
}

func (f *fakePresence) Unregister(ctx context.Context, userID, socketID string) error {
	f.unregistered = append(f.unregistered, userID)
	return nil
}

func newTestClient(userID string) *Client {
	return &Client{
		userID:   userID,
		socketID: userID + "-socket",
		rooms:    make(map[string]bool),
		dedupe:   newSessionDedupe(200),
		send:     make(chan []byte, 16),
	}
}

func TestHubRegisterTracksClientByUser(t *testing.T) {
	presence := &fakePresence{}
	hub := NewHub(presence, nil)
	c := newTestClient("u1")

	hub.register(context.Background(), c)
	assert.Equal(t, []string{"u1"}, presence.registered)

	hub.unregister(context.Background(), c)
	assert.Equal(t, []string{"u1"}, presence.unregistered)
}

func TestHubJoinAndLeaveRoomTracksRoster(t *testing.T) {
	hub := NewHub(nil, nil)
	c1 := newTestClient("u1")
	c2 := newTestClient("u2")

	hub.joinRoom("conv-1", c1)
	hub.joinRoom("conv-1", c2)
	assert.True(t, c1.rooms["conv-1"])

	hub.leaveRoom("conv-1", c1)
	assert.False(t, c1.rooms["conv-1"])
	assert.Len(t, hub.roomMembers["conv-1"], 1)
}

func TestHubBroadcastToRoomExcludesSender(t *testing.T) {
	hub := NewHub(nil, nil)
	c1 := newTestClient("u1")
	c2 := newTestClient("u2")
	hub.joinRoom("conv-1", c1)
	hub.joinRoom("conv-1", c2)

	hub.broadcastToRoom("conv-1", c1, "user_typing", map[string]interface{}{"ok": true})

	assert.Len(t, c1.send, 0)
	require.Len(t, c2.send, 1)
}

func TestHubDeliverSkipsOfflineRecipientsAndDedupes(t *testing.T) {
	hub := NewHub(nil, nil)
	c := newTestClient("u2")
	hub.register(context.Background(), c)

	env := models.Envelope{MessageID: "m1", ConversationID: "conv-1", SenderID: "u1"}
	hub.deliver(context.Background(), fanout.Delivery{RecipientID: "u2", Envelope: env})
	require.Len(t, c.send, 1)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(<-c.send, &frame))
	assert.Equal(t, "new_message", frame["type"])

	// A duplicate delivery of the same message must not be re-emitted.
	hub.deliver(context.Background(), fanout.Delivery{RecipientID: "u2", Envelope: env})
	assert.Len(t, c.send, 0)

	// No live socket for this recipient: deliver must not block or panic.
	hub.deliver(context.Background(), fanout.Delivery{RecipientID: "u3", Envelope: env})
}

func TestHubDrainDeliveriesStopsOnContextCancel(t *testing.T) {
	hub := NewHub(nil, nil)
	queue := make(fanout.Queue, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		hub.DrainDeliveries(ctx, queue)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DrainDeliveries did not stop after context cancellation")
	}
}
