// Package mqttpub publishes telemetry and attributes to an MQTT broker with
// per-device credentials, automatic reconnection, and a bounded offline
// buffer so publishes are never silently dropped (spec.md §4.6).
package mqttpub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/dlmsbridge/bridge/internal/logger"
)

const (
	// TopicTelemetry and TopicAttributes are fixed per spec.md §6; a gateway
	// translator downstream attaches device identity without changing them.
	TopicTelemetry  = "v1/devices/me/telemetry"
	TopicAttributes = "v1/devices/me/attributes"
)

// Config parameterizes one broker connection.
type Config struct {
	Host            string
	Port            int
	DeviceToken     string
	ClientID        string
	Keepalive       time.Duration
	QoS             byte
	ConnectTimeout  time.Duration
	BufferCapacity  int
}

// ApplyDefaults fills zero-valued fields with spec.md §6's defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 1883
	}
	if c.Keepalive == 0 {
		c.Keepalive = 60 * time.Second
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = 1000
	}
}

// telemetryEnvelope is the {"ts":..., "values":{...}} wire form; the flat
// object form (just the values map) is emitted directly when no explicit
// timestamp is supplied, per spec.md §6 which requires both be accepted.
type telemetryEnvelope struct {
	TS     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`
}

// Publisher wraps a paho MQTT client with the offline-buffering contract:
// publish_* returns true iff the message was handed to the broker or
// enqueued; connection errors never propagate as an error return.
type Publisher struct {
	cfg    Config
	client mqtt.Client
	buf    *offlineBuffer

	mu        sync.Mutex
	connected bool
}

// New builds a Publisher bound to cfg. Connect must be called before use.
func New(cfg Config) *Publisher {
	cfg.ApplyDefaults()
	p := &Publisher{cfg: cfg, buf: newOfflineBuffer(cfg.BufferCapacity)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.DeviceToken)
	opts.SetPassword("")
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.Keepalive)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()
		logger.Info("mqtt connected", "host", cfg.Host, "port", cfg.Port)
		p.flush()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect blocks until the broker's CONNACK is received or the configured
// timeout elapses.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		return fmt.Errorf("mqttpub: connect timed out after %s", p.cfg.ConnectTimeout)
	}
	return token.Error()
}

// Disconnect performs a clean shutdown, waiting up to 250ms to flush
// in-flight packets.
func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
}

// IsConnected reports the publisher's most recently observed broker link
// state, reflecting connection errors logged by the reconnect handler
// rather than raising them to the caller.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// PublishTelemetry wraps values (and, when ts is non-zero, the timestamp) as
// JSON and publishes to TopicTelemetry at the configured QoS. It returns
// true iff the message was handed to the broker or enqueued in the offline
// buffer; it never returns an error for connection problems.
func (p *Publisher) PublishTelemetry(values map[string]float64, ts int64) bool {
	var payload []byte
	var err error
	if ts != 0 {
		payload, err = json.Marshal(telemetryEnvelope{TS: ts, Values: values})
	} else {
		payload, err = json.Marshal(values)
	}
	if err != nil {
		logger.Error("failed to marshal telemetry payload", "error", err)
		return false
	}
	return p.publish(TopicTelemetry, payload)
}

// PublishAttributes publishes attrs as a JSON object to TopicAttributes at
// the publisher's configured QoS (default 1), the same QoS as telemetry;
// there is no separate QoS setting for attributes.
func (p *Publisher) PublishAttributes(attrs map[string]any) bool {
	payload, err := json.Marshal(attrs)
	if err != nil {
		logger.Error("failed to marshal attributes payload", "error", err)
		return false
	}
	return p.publish(TopicAttributes, payload)
}

func (p *Publisher) publish(topic string, payload []byte) bool {
	if !p.IsConnected() {
		p.buf.push(message{topic: topic, payload: payload, qos: p.cfg.QoS})
		logger.Debug("buffered publish while offline", "topic", topic, "buffer_depth", p.buf.depth())
		return true
	}

	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.buf.push(message{topic: topic, payload: payload, qos: p.cfg.QoS})
		logger.Warn("publish ack timed out, buffered instead", "topic", topic)
		return true
	}
	if err := token.Error(); err != nil {
		p.buf.push(message{topic: topic, payload: payload, qos: p.cfg.QoS})
		logger.Warn("publish failed, buffered instead", "topic", topic, "error", err)
		return true
	}
	return true
}

// flush drains the offline buffer in FIFO order on reconnect. A publish
// failure restores the message to the head of the queue and stops the
// flush so ordering is preserved for the next attempt.
func (p *Publisher) flush() {
	for {
		msg, ok := p.buf.pop()
		if !ok {
			return
		}
		token := p.client.Publish(msg.topic, msg.qos, false, msg.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			p.buf.pushFront(msg)
			logger.Warn("offline buffer flush stalled, will retry on next reconnect", "buffer_depth", p.buf.depth())
			return
		}
	}
}

// BufferDepth reports how many messages are currently queued offline.
func (p *Publisher) BufferDepth() int { return p.buf.depth() }
