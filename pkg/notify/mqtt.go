// Package notify publishes device state changes to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "yombo"

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// TopicPrefix defaults to DefaultTopicPrefix
	TopicPrefix string
	QoS         byte
	Retained    bool
}

// Publisher sends one message. *Client satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Client wraps a paho MQTT client.
type Client struct {
	client mqtt.Client
}

// NewClient connects to the broker.
func NewClient(cfg Config) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &Client{client: client}, nil
}

// Publish sends payload and waits for the broker to accept it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// StatePayload is the JSON body of a state message.
type StatePayload struct {
	DeviceID          string         `json:"device_id"`
	Label             string         `json:"label"`
	MachineState      float64        `json:"machine_state"`
	MachineStateExtra map[string]any `json:"machine_state_extra"`
	HumanState        string         `json:"human_state"`
	HumanMessage      string         `json:"human_message"`
	EnergyUsage       float64        `json:"energy_usage"`
	EnergyType        string         `json:"energy_type"`
	CommandID         string         `json:"command_id,omitempty"`
	DeviceCommandID   string         `json:"device_command_id,omitempty"`
	ReportingSource   string         `json:"reporting_source"`
	PreviousState     *float64       `json:"previous_machine_state,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// StateNotifier implements device.StateListener by publishing every state
// change to "<prefix>/devices/<device id>/state".
type StateNotifier struct {
	pub      Publisher
	prefix   string
	qos      byte
	retained bool
}

var _ device.StateListener = (*StateNotifier)(nil)

// NewStateNotifier creates a StateNotifier.
func NewStateNotifier(pub Publisher, cfg Config) *StateNotifier {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &StateNotifier{pub: pub, prefix: prefix, qos: cfg.QoS, retained: cfg.Retained}
}

// Topic returns the state topic of a device.
func (n *StateNotifier) Topic(deviceID string) string {
	return n.prefix + "/devices/" + deviceID + "/state"
}

// StateChanged publishes the new state. Failures are logged only.
func (n *StateNotifier) StateChanged(_ context.Context, ev device.StateChangedEvent) {
	cur := ev.Current
	if cur == nil {
		return
	}
	payload := StatePayload{
		DeviceID:          cur.DeviceID,
		MachineState:      cur.MachineState,
		MachineStateExtra: cur.MachineStateExtra,
		HumanState:        cur.HumanState,
		HumanMessage:      cur.HumanMessage,
		EnergyUsage:       cur.EnergyUsage,
		EnergyType:        string(cur.EnergyType),
		CommandID:         cur.CommandID,
		DeviceCommandID:   cur.DeviceCommandID,
		ReportingSource:   cur.ReportingSource,
		CreatedAt:         cur.CreatedAt,
	}
	if ev.Device != nil {
		payload.Label = ev.Device.FullLabel()
	}
	if ev.Previous != nil && !ev.Previous.Fake {
		prev := ev.Previous.MachineState
		payload.PreviousState = &prev
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("device_id", cur.DeviceID).Msg("Failed to encode state message")
		return
	}
	if err := n.pub.Publish(n.Topic(cur.DeviceID), n.qos, n.retained, body); err != nil {
		log.Warn().Err(err).Str("device_id", cur.DeviceID).Msg("Failed to publish state")
	}
}
