// Package telemetry publishes console activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/util"
)

// Topic suffixes under rcon/<client_id>/.
const (
	TopicCommand = "command"
	TopicStatus  = "status"
)

// AppVersion is reported in every message.
var AppVersion = "dev"

// StatusSource reports the console state published with every online
// status, so subscribers learn about a handshake that finished before the
// broker connection came up.
type StatusSource interface {
	Status() console.Status
}

// MQTTHandler forwards bus events to the broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	clientID string
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger
	status   StatusSource

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler builds the client from cfg. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		clientID: clientID(cfg.ClientID, sysInfo.Hostname),
		eventBus: eventBus,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": AppVersion,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(h.clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	// Retained last will so subscribers see the console go away.
	will, _ := json.Marshal(h.buildMessage(map[string]interface{}{"event": "offline"}))
	opts.SetBinaryWill(h.Topic(TopicStatus), will, 1, true)

	// Runs on every (re)connect.
	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Str("client_id", h.clientID).Msg("MQTT connected")
		h.publish(TopicStatus, h.onlineMessage(), true)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

// SetStatusSource attaches the console whose state accompanies the online
// status. Call it before Start.
func (h *MQTTHandler) SetStatusSource(src StatusSource) {
	h.status = src
}

// Topic returns the full topic for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return "rcon/" + h.clientID + "/" + suffix
}

// Start connects, subscribes to the bus and blocks until ctx is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	h.subscribeEvents()

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventCommandExecuted, "mqtt.commandExecuted", h.onCommand)
	h.eventBus.Subscribe(events.EventCommandFailed, "mqtt.commandFailed", h.onCommand)
	h.eventBus.Subscribe(events.EventAuthenticated, "mqtt.authenticated", h.onSession)
	h.eventBus.Subscribe(events.EventAuthFailed, "mqtt.authFailed", h.onSession)
}

func (h *MQTTHandler) publish(suffix string, payload interface{}, retained bool) {
	if !h.client.IsConnected() {
		return
	}

	topic := h.Topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, retained, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onCommand(ctx context.Context, event events.Event) error {
	h.publish(TopicCommand, commandMessage(event), false)
	return nil
}

func (h *MQTTHandler) onSession(ctx context.Context, event events.Event) error {
	h.publish(TopicStatus, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	}, false)
	return nil
}

func (h *MQTTHandler) onlineMessage() map[string]interface{} {
	msg := map[string]interface{}{"event": "online"}
	if h.status != nil {
		msg["session"] = h.status.Status()
	}
	return msg
}

// PublishShutdown sends a retained shutdown status.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicStatus, map[string]interface{}{"event": "shutdown"}, true)
}

// commandMessage flattens a command event for subscribers.
func commandMessage(event events.Event) map[string]interface{} {
	msg := map[string]interface{}{
		"event":   string(event.Type),
		"success": event.Type == events.EventCommandExecuted,
	}
	if p, ok := event.Payload.(events.CommandPayload); ok {
		msg["id"] = p.ID
		msg["source"] = p.Source
		msg["command"] = p.Command
		msg["response"] = p.Response
		msg["duration_ms"] = p.Duration.Milliseconds()
		if p.Error != "" {
			msg["error"] = p.Error
		}
	}
	return msg
}

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

func clientID(configured, hostname string) string {
	if configured != "" {
		return configured
	}
	if hostname != "" {
		return "rconctl-" + hostname
	}
	return "rconctl-" + uuid.NewString()
}
