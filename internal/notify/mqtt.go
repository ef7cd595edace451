package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flaresense/detection-server/internal/logger"
)

// mqttMessage is the JSON document published for each alert.
type mqttMessage struct {
	ID          string   `json:"id"`
	Severity    string   `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Chaos       float64  `json:"chaos_score"`
	Count       int      `json:"count"`
	Zone        string   `json:"zone"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	LocationURL string   `json:"location_url"`
	Timestamp   int64    `json:"timestamp"`
}

// MQTTChannel publishes alerts to a broker topic.
type MQTTChannel struct {
	broker   string
	clientID string
	username string
	password string
	topic    string
	qos      byte

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTChannel(broker, clientID, username, password, topic string, qos int) *MQTTChannel {
	return &MQTTChannel{
		broker:   broker,
		clientID: clientID,
		username: username,
		password: password,
		topic:    topic,
		qos:      byte(qos),
	}
}

func (m *MQTTChannel) Name() string  { return "mqtt" }
func (m *MQTTChannel) Enabled() bool { return m.broker != "" && m.topic != "" }

func (m *MQTTChannel) Send(ctx context.Context, a Alert) error {
	if !m.Enabled() {
		return ErrNotConfigured
	}
	client, err := m.connect(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(alertMessage(a))
	if err != nil {
		return err
	}

	token := client.Publish(m.topic, m.qos, false, payload)
	if !waitToken(ctx, token) {
		return fmt.Errorf("mqtt publish to %s timed out", m.topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (m *MQTTChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client = nil
	return nil
}

func (m *MQTTChannel) connect(ctx context.Context) (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnectionOpen() {
		return m.client, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.broker)
	opts.SetClientID(m.clientID)
	opts.SetUsername(m.username)
	opts.SetPassword(m.password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT", "Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !waitToken(ctx, token) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", m.broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", m.broker, err)
	}
	logger.Info("MQTT", "Connected to %s", m.broker)
	m.client = client
	return client, nil
}

func waitToken(ctx context.Context, token mqtt.Token) bool {
	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	}
}

func alertMessage(a Alert) mqttMessage {
	msg := mqttMessage{
		ID:          a.ID,
		Severity:    a.Severity.EventLabel(),
		Confidence:  a.Confidence,
		Chaos:       a.Chaos,
		Count:       a.Count,
		Zone:        a.Zone,
		LocationURL: a.MapURL,
		Timestamp:   a.FiredAt.Unix(),
	}
	if a.Location != nil {
		lat, lon := a.Location.Lat, a.Location.Lon
		msg.Latitude, msg.Longitude = &lat, &lon
	}
	return msg
}
