package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic string
	body  map[string]any
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	msgs      []published
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	var body map[string]any
	_ = json.Unmarshal(payload.([]byte), &body)
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic: topic, body: body})
	f.mu.Unlock()
	return doneToken{}
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.topic)
	}
	return out
}

func newTestHandler(t *testing.T, traffic bool) (*MQTTHandler, *fakePublisher, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	h, err := NewMQTTHandler(config.MQTTConfig{
		Enabled:        true,
		BrokerURL:      "127.0.0.1",
		Port:           1883,
		PublishTraffic: traffic,
	}, bus, "test")
	require.NoError(t, err)

	pub := &fakePublisher{connected: true}
	h.pub = pub
	h.subscribeEvents()
	return h, pub, bus
}

func TestMQTTDisabled(t *testing.T) {
	t.Parallel()
	_, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus(), "test")
	assert.Error(t, err)
}

func TestMQTTPublishesPresenceEvents(t *testing.T) {
	t.Parallel()
	_, pub, bus := newTestHandler(t, false)
	ctx := context.Background()

	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventFriendPresence,
		Payload: events.FriendPresencePayload{PUUID: "a", Show: "chat"},
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventSessionConnected,
		Payload: events.SessionConnectedPayload{JID: "me@x"},
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventProtocolLog}))

	assert.Equal(t, []string{TopicFriends, TopicSession}, pub.topics())

	first := pub.msgs[0].body
	assert.Equal(t, "test", first["app_version"])
	assert.Contains(t, first, "hostname")
	assert.Contains(t, first, "timestamp")
	assert.Equal(t, "a", first["payload"].(map[string]any)["puuid"])

	session := pub.msgs[1].body["payload"].(map[string]any)
	assert.Equal(t, string(events.EventSessionConnected), session["event"])
}

func TestMQTTTrafficOptIn(t *testing.T) {
	t.Parallel()
	_, pub, bus := newTestHandler(t, true)

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventProtocolLog,
		Payload: events.ProtocolLogPayload{Direction: "sent", Data: "<presence/>"},
	}))
	assert.Equal(t, []string{TopicTraffic}, pub.topics())
}

func TestMQTTSkipsWhenDisconnected(t *testing.T) {
	t.Parallel()
	h, pub, _ := newTestHandler(t, false)
	pub.connected = false

	h.PublishShutdown()
	assert.Empty(t, pub.topics())
}

func TestMetricsHelpers(t *testing.T) {
	InitMetrics()
	InitMetrics()

	before := testutil.ToFloat64(connectAttempts.WithLabelValues("error"))
	ObserveConnect(errors.New("x"), time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(connectAttempts.WithLabelValues("error")))

	SetFriendsTracked(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(friendsTracked))

	SetSessionConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(sessionConnected))
	SetSessionConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(sessionConnected))

	ObserveStreamBytes(DirectionIn, 0)
	ObserveStreamBytes(DirectionIn, 10)
	assert.Equal(t, float64(10), testutil.ToFloat64(streamBytes.WithLabelValues(DirectionIn)))
}
