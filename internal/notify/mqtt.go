// Package notify publishes capture events to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cjeanneret/snapgo/internal/config"
	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/logic/screen"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// ErrNotConnected is returned by PublishCapture before Connect succeeded.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// Event is the JSON payload published on <topic>/captured.
type Event struct {
	ID     string    `json:"id"`
	Path   string    `json:"path"`
	Facing string    `json:"facing"`
	Flash  string    `json:"flash"`
	Time   time.Time `json:"time"`
}

// MQTT publishes capture events.
type MQTT struct {
	cfg       config.MQTTConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client
	newID     func() string

	mu     sync.RWMutex
	client mqtt.Client
}

// NewMQTT creates a publisher for cfg. Call Connect before publishing.
func NewMQTT(cfg config.MQTTConfig) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "snapgo-" + uuid.NewString()[:8]
	}
	return &MQTT{cfg: cfg, newClient: mqtt.NewClient, newID: uuid.NewString}
}

// Connect opens the broker connection. The client reconnects on its own afterwards.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetUsername(m.cfg.Username)
	opts.SetPassword(m.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		debug.Info("Connected to MQTT broker: %s", m.cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		debug.Errorf("MQTT connection lost", err, "broker", m.cfg.Broker)
	})

	client := m.newClient(opts)
	if err := wait(ctx, client.Connect(), connectTimeout); err != nil {
		return fmt.Errorf("connect to %s: %w", m.cfg.Broker, err)
	}
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

func (m *MQTT) connected() mqtt.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return nil
	}
	return m.client
}

// PublishCapture sends e to <topic>/captured with QoS 1.
func (m *MQTT) PublishCapture(ctx context.Context, e screen.CaptureEvent) error {
	client := m.connected()
	if client == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(Event{
		ID:     m.newID(),
		Path:   e.Path,
		Facing: string(e.Facing),
		Flash:  string(e.Flash),
		Time:   e.Time.UTC(),
	})
	if err != nil {
		return err
	}
	topic := m.cfg.Topic + "/captured"
	debug.Verbose("Publishing to topic %s", topic)
	if err := wait(ctx, client.Publish(topic, 1, false, payload), publishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, letting in-flight messages drain for up to 250ms.
func (m *MQTT) Close() {
	if client := m.connected(); client != nil {
		client.Disconnect(250)
	}
}

func wait(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
