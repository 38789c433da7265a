package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/snapgo/internal/config"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/logic/screen"
)

type doneToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, finished bool) *doneToken {
	t := &doneToken{done: make(chan struct{}), err: err}
	if finished {
		close(t.done)
	}
	return t
}

func (t *doneToken) Wait() bool                     { <-t.done; return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// recordingClient implements the parts of mqtt.Client the publisher uses.
type recordingClient struct {
	mqtt.Client
	connected    bool
	connectToken mqtt.Token
	token        mqtt.Token
	sent         []published
}

func (c *recordingClient) IsConnected() bool  { return c.connected }
func (c *recordingClient) Connect() mqtt.Token { return c.connectToken }

func (c *recordingClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func newTestPublisher(client mqtt.Client) *MQTT {
	m := NewMQTT(config.MQTTConfig{Broker: "tcp://localhost:1883", Topic: "station1"})
	m.client = client
	m.newID = func() string { return "evt-1" }
	return m
}

func TestPublishCapture(t *testing.T) {
	client := &recordingClient{connected: true, token: newToken(nil, true)}
	m := newTestPublisher(client)

	at := time.Date(2024, 3, 15, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	err := m.PublishCapture(context.Background(), screen.CaptureEvent{
		Path:   "/photos/1710500400000.jpg",
		Facing: camera.FacingFront,
		Flash:  camera.FlashOn,
		Time:   at,
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "station1/captured", client.sent[0].topic)
	assert.Equal(t, byte(1), client.sent[0].qos)

	var body map[string]any
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &body))
	assert.Equal(t, map[string]any{
		"id":     "evt-1",
		"path":   "/photos/1710500400000.jpg",
		"facing": "front",
		"flash":  "on",
		"time":   "2024-03-15T11:00:00Z",
	}, body)
}

func TestPublishCapture_NotConnected(t *testing.T) {
	m := NewMQTT(config.MQTTConfig{Topic: "x"})
	assert.ErrorIs(t, m.PublishCapture(context.Background(), screen.CaptureEvent{}), ErrNotConnected)

	m = newTestPublisher(&recordingClient{connected: false})
	assert.ErrorIs(t, m.PublishCapture(context.Background(), screen.CaptureEvent{}), ErrNotConnected)
}

func TestPublishCapture_BrokerError(t *testing.T) {
	boom := errors.New("not authorized")
	m := newTestPublisher(&recordingClient{connected: true, token: newToken(boom, true)})
	assert.ErrorIs(t, m.PublishCapture(context.Background(), screen.CaptureEvent{}), boom)
}

func TestPublishCapture_ContextCancel(t *testing.T) {
	m := newTestPublisher(&recordingClient{connected: true, token: newToken(nil, false)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.PublishCapture(ctx, screen.CaptureEvent{}), context.Canceled)
}

func TestNewMQTT_GeneratesClientID(t *testing.T) {
	m := NewMQTT(config.MQTTConfig{})
	assert.Regexp(t, `^snapgo-[0-9a-f]{8}$`, m.cfg.ClientID)

	m = NewMQTT(config.MQTTConfig{ClientID: "kiosk"})
	assert.Equal(t, "kiosk", m.cfg.ClientID)
}

func TestConnect_ConcurrentPublish(t *testing.T) {
	connecting := newToken(nil, false)
	client := &recordingClient{connected: true, connectToken: connecting, token: newToken(nil, true)}
	m := NewMQTT(config.MQTTConfig{Broker: "tcp://localhost:1883", Topic: "station1"})
	m.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()

	// Broker has not answered yet.
	assert.ErrorIs(t, m.PublishCapture(context.Background(), screen.CaptureEvent{}), ErrNotConnected)

	close(connecting.done)
	require.Eventually(t, func() bool {
		return m.PublishCapture(context.Background(), screen.CaptureEvent{Path: "/p.jpg"}) == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, <-done)
	assert.Equal(t, "station1/captured", client.sent[0].topic)
}
