package api

import (
	"encoding/json"
	"testing"

	"github.com/radioastro/subarray-core/internal/infrastructure/config"
	"github.com/radioastro/subarray-core/internal/infrastructure/logging"
)

func newTestHub() *Hub {
	cfg := config.WebSocketConfig{PingInterval: 30, PongTimeout: 60, MaxMessageSize: 4096}
	return NewHub(cfg, logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"))
}

// newHubClient registers a client subscribed to the given channels without
// a network connection; broadcasts land in its send buffer.
func newHubClient(hub *Hub, channels ...string) *WSClient {
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		client.subscriptions[ch] = struct{}{}
	}
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("broadcast is not valid JSON: %v", err)
		}
		return msg
	default:
		t.Fatal("no message in client send buffer")
		return WSMessage{}
	}
}

func TestHub_BroadcastStateChange(t *testing.T) {
	hub := newTestHub()
	subscribed := newHubClient(hub, ChannelStateChanged)
	other := newHubClient(hub, ChannelCommandEvent)

	hub.BroadcastStateChange("subarray-01", "obs_state", "IDLE")

	msg := receive(t, subscribed)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelStateChanged {
		t.Errorf("message = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", msg.Payload)
	}
	if payload["entity"] != "subarray-01" || payload["attribute"] != "obs_state" || payload["value"] != "IDLE" {
		t.Errorf("payload = %v", payload)
	}

	// Clients on other channels receive nothing.
	select {
	case data := <-other.send:
		t.Errorf("unsubscribed client received %s", data)
	default:
	}
}

func TestHub_BroadcastCommandEvent(t *testing.T) {
	hub := newTestHub()
	client := newHubClient(hub, ChannelCommandEvent)

	hub.Broadcast(ChannelCommandEvent, map[string]any{
		"entity":         "subarray-01",
		"command":        "AssignResources",
		"transaction_id": "txn-test-0001",
		"outcome":        "success",
	})

	msg := receive(t, client)
	if msg.EventType != ChannelCommandEvent {
		t.Errorf("event type = %q, want %q", msg.EventType, ChannelCommandEvent)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", msg.Payload)
	}
	if payload["transaction_id"] != "txn-test-0001" || payload["outcome"] != "success" {
		t.Errorf("payload = %v", payload)
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := newTestHub()
	client := newHubClient(hub, ChannelStateChanged)

	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d, want 0", hub.ClientCount())
	}
	if _, open := <-client.send; open {
		t.Error("send channel should be closed after Unregister")
	}

	// A broadcast after disconnect must not panic.
	hub.BroadcastStateChange("subarray-01", "obs_state", "IDLE")
}
