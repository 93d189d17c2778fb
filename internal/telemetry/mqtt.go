// Package telemetry exposes presence metrics and mirrors session events to
// an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/util"
)

// MQTT topics
const (
	TopicCompanionAdmin = "companion/admin"
	TopicSession        = "companion/presence/session"
	TopicFriends        = "companion/presence/friends"
	TopicBroadcast      = "companion/presence/broadcast"
	TopicTraffic        = "companion/presence/traffic"
	TopicClient         = "companion/client"
)

// Publisher is the part of an MQTT client the handler needs.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTTHandler publishes presence events from the bus to an MQTT broker.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	pub      Publisher
	version  string

	// included in every message
	metadata map[string]any
}

// NewMQTTHandler creates a handler for the configured broker.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		version:  version,
		metadata: map[string]any{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"os":          sysInfo.OS,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("companion-%s", sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

		// mTLS client certificate
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.pub = handler.client
	return handler, nil
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	h.publish(TopicCompanionAdmin, map[string]any{"event": "startup"})

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventSessionConnected, "mqtt.sessionConnected", h.onSession)
	h.eventBus.Subscribe(events.EventSessionDisconnected, "mqtt.sessionDisconnected", h.onSession)
	h.eventBus.Subscribe(events.EventSessionHeartbeat, "mqtt.heartbeat", h.onSession)
	h.eventBus.Subscribe(events.EventFriendPresence, "mqtt.friendPresence", h.onFriendPresence)
	h.eventBus.Subscribe(events.EventFakePresenceSent, "mqtt.fakePresence", h.onFakePresence)
	h.eventBus.Subscribe(events.EventClientExited, "mqtt.clientExited", h.onClient)
	h.eventBus.Subscribe(events.EventCredentialsRefreshed, "mqtt.credentials", h.onClient)
	h.eventBus.Subscribe(events.EventGameStateChanged, "mqtt.gameState", h.onClient)
	if h.cfg.PublishTraffic {
		h.eventBus.Subscribe(events.EventProtocolLog, "mqtt.traffic", h.onTraffic)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for t, name := range map[events.EventType]string{
		events.EventSessionConnected:     "mqtt.sessionConnected",
		events.EventSessionDisconnected:  "mqtt.sessionDisconnected",
		events.EventSessionHeartbeat:     "mqtt.heartbeat",
		events.EventFriendPresence:       "mqtt.friendPresence",
		events.EventFakePresenceSent:     "mqtt.fakePresence",
		events.EventClientExited:         "mqtt.clientExited",
		events.EventCredentialsRefreshed: "mqtt.credentials",
		events.EventGameStateChanged:     "mqtt.gameState",
		events.EventProtocolLog:          "mqtt.traffic",
	} {
		h.eventBus.Unsubscribe(t, name)
	}
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload any) {
	h.mu.Lock()
	pub := h.pub
	h.mu.Unlock()
	if pub == nil || !pub.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := pub.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload any) map[string]any {
	msg := make(map[string]any, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onSession(ctx context.Context, event events.Event) error {
	h.publish(TopicSession, map[string]any{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onFriendPresence(ctx context.Context, event events.Event) error {
	h.publish(TopicFriends, event.Payload)
	return nil
}

func (h *MQTTHandler) onFakePresence(ctx context.Context, event events.Event) error {
	h.publish(TopicBroadcast, event.Payload)
	return nil
}

func (h *MQTTHandler) onClient(ctx context.Context, event events.Event) error {
	h.publish(TopicClient, map[string]any{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onTraffic(ctx context.Context, event events.Event) error {
	h.publish(TopicTraffic, event.Payload)
	return nil
}

// PublishShutdown announces the companion is going away.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicCompanionAdmin, map[string]any{"event": "shutdown"})
}
