package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/events"
)

func TestBrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{BrokerURL: "broker.local", Port: 1883}
	if got := brokerURL(cfg); got != "tcp://broker.local:1883" {
		t.Fatalf("plain: %s", got)
	}
	cfg.UseTLS = true
	cfg.Port = 8883
	if got := brokerURL(cfg); got != "ssl://broker.local:8883" {
		t.Fatalf("tls: %s", got)
	}
}

func TestClientID(t *testing.T) {
	if got := clientID("fixed", "host"); got != "fixed" {
		t.Fatalf("configured: %s", got)
	}
	if got := clientID("", "host"); got != "rconctl-host" {
		t.Fatalf("hostname: %s", got)
	}
	got := clientID("", "")
	if !strings.HasPrefix(got, "rconctl-") || len(got) != len("rconctl-")+36 {
		t.Fatalf("uuid fallback: %s", got)
	}
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus()); err == nil {
		t.Fatal("expected error for disabled MQTT")
	}
}

func TestHandlerTopicsAndMessage(t *testing.T) {
	h, err := NewMQTTHandler(config.MQTTConfig{
		Enabled:   true,
		BrokerURL: "127.0.0.1",
		Port:      1883,
		ClientID:  "console-1",
	}, events.NewEventBus())
	if err != nil {
		t.Fatal(err)
	}

	if got := h.Topic(TopicCommand); got != "rcon/console-1/command" {
		t.Fatalf("command topic: %s", got)
	}
	if got := h.Topic(TopicStatus); got != "rcon/console-1/status" {
		t.Fatalf("status topic: %s", got)
	}

	msg := h.buildMessage("payload")
	if msg["payload"] != "payload" || msg["app_version"] != AppVersion {
		t.Fatalf("message: %v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
}

func TestCommandMessage(t *testing.T) {
	msg := commandMessage(events.Event{
		Type: events.EventCommandFailed,
		Payload: events.CommandPayload{
			ID:       7,
			Source:   "api",
			Command:  "stop",
			Error:    "rcon read: EOF",
			Duration: 1500 * time.Millisecond,
		},
	})

	if msg["success"] != false || msg["id"] != int32(7) || msg["command"] != "stop" {
		t.Fatalf("message: %v", msg)
	}
	if msg["duration_ms"] != int64(1500) || msg["error"] != "rcon read: EOF" {
		t.Fatalf("message: %v", msg)
	}
}

type staticStatus struct{ st console.Status }

func (s staticStatus) Status() console.Status { return s.st }

func TestOnlineMessageCarriesSessionState(t *testing.T) {
	h, err := NewMQTTHandler(config.MQTTConfig{
		Enabled:   true,
		BrokerURL: "127.0.0.1",
		Port:      1883,
		ClientID:  "console-1",
	}, events.NewEventBus())
	if err != nil {
		t.Fatal(err)
	}

	if msg := h.onlineMessage(); msg["event"] != "online" || msg["session"] != nil {
		t.Fatalf("without source: %v", msg)
	}

	want := console.Status{Addr: "127.0.0.1:25575", State: "ready", LastID: 1}
	h.SetStatusSource(staticStatus{want})
	msg := h.onlineMessage()
	if got, ok := msg["session"].(console.Status); !ok || got != want {
		t.Fatalf("session: %v", msg["session"])
	}
}
