package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/reviewlens/api/internal/model"
)

func recvMessage(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive broadcast")
	}
	return nil
}

func TestHub_BroadcastToJobSubscribers(t *testing.T) {
	h := NewHub()
	go h.Run()

	sub := &Client{JobID: "job-1", Send: make(chan []byte, 16)}
	other := &Client{JobID: "job-2", Send: make(chan []byte, 16)}
	h.Register(sub)
	h.Register(other)

	h.BroadcastProgress("job-1", 1, 3)

	var msg model.WSProgressMessage
	if err := json.Unmarshal(recvMessage(t, sub), &msg); err != nil {
		t.Fatalf("broadcast unreadable: %v", err)
	}
	if msg.Type != model.WSMessageTypeProgress || msg.ProcessedBatches != 1 || msg.TotalBatches != 3 {
		t.Errorf("unexpected progress message: %+v", msg)
	}

	select {
	case m := <-other.Send:
		t.Errorf("subscriber of another job received %s", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DropsStalledSubscriber(t *testing.T) {
	h := NewHub()
	go h.Run()

	healthy := &Client{JobID: "job-1", Send: make(chan []byte, 16)}
	stalled := &Client{JobID: "job-1", Send: make(chan []byte)} // nobody reads
	h.Register(healthy)
	h.Register(stalled)

	// The stalled client cannot accept the first message and is dropped; the
	// healthy one keeps receiving.
	h.BroadcastProgress("job-1", 1, 2)
	h.BroadcastComplete("job-1", 2)

	recvMessage(t, healthy)
	var msg model.WSCompleteMessage
	if err := json.Unmarshal(recvMessage(t, healthy), &msg); err != nil {
		t.Fatalf("broadcast unreadable: %v", err)
	}
	if msg.Type != model.WSMessageTypeComplete {
		t.Errorf("expected complete message, got %+v", msg)
	}

	select {
	case _, ok := <-stalled.Send:
		if ok {
			t.Error("stalled subscriber unexpectedly received a message")
		}
	case <-time.After(2 * time.Second):
		t.Error("stalled subscriber was not dropped")
	}
}
