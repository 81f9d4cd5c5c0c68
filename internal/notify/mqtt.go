// Package notify publishes backend lifecycle changes to an MQTT broker.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/supervisor"
)

const (
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 30 * time.Second
	defaultQueueSize         = 64

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// ErrConnectionFailed is returned when the broker cannot be reached.
var ErrConnectionFailed = errors.New("mqtt connection failed")

// Logger receives publish failures.
type Logger interface {
	Warn(msg string, args ...any)
}

// client is the subset of pahomqtt.Client used by the publisher.
type client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// StatePayload is the retained message published on <topic>/state.
type StatePayload struct {
	Backend   string `json:"backend"`
	Event     string `json:"event"`
	State     string `json:"state"`
	ID        string `json:"id,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type outbound struct {
	topic   string
	payload interface{}
}

// Publisher mirrors supervisor events to MQTT topics. It is safe for
// concurrent use. Messages are handed to a single sender goroutine so
// Observe never waits on the broker and messages keep their order.
type Publisher struct {
	client         client
	topic          string
	qos            byte
	publishTimeout time.Duration
	logger         Logger

	mu     sync.Mutex
	closed bool
	queue  chan outbound
	sent   chan struct{}
}

// Connect dials the broker described by cfg and announces availability.
func Connect(cfg config.MQTTSpec, logger Logger) (*Publisher, error) {
	opts := buildClientOptions(cfg)
	c := pahomqtt.NewClient(opts)

	timeout := cfg.ConnectTimeout.Duration
	if timeout <= 0 {
		timeout = config.DefaultConnectTimeout
	}
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newPublisher(c, cfg, logger)
	p.publishAvailability(availabilityOnline)
	return p, nil
}

func newPublisher(c client, cfg config.MQTTSpec, logger Logger) *Publisher {
	p := &Publisher{
		client:         c,
		topic:          strings.TrimSuffix(cfg.Topic, "/"),
		qos:            byte(cfg.QoS),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
		queue:          make(chan outbound, defaultQueueSize),
		sent:           make(chan struct{}),
	}
	go p.run()
	return p
}

func buildClientOptions(cfg config.MQTTSpec) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(defaultKeepAlive)
	if cfg.ConnectTimeout.Duration > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout.Duration)
	}
	opts.SetWill(availabilityTopic(cfg.Topic), availabilityOffline, byte(cfg.QoS), true)
	return opts
}

func availabilityTopic(base string) string {
	return strings.TrimSuffix(base, "/") + "/availability"
}

// StateTopic returns the topic carrying retained state messages.
func (p *Publisher) StateTopic() string {
	return p.topic + "/state"
}

// Observe publishes evt without waiting for the broker acknowledgement.
func (p *Publisher) Observe(evt supervisor.Event) {
	payload := StatePayload{
		Backend:   evt.Backend,
		Event:     string(evt.Type),
		State:     evt.State.String(),
		ID:        evt.ID,
		PID:       evt.PID,
		Error:     evt.Message(),
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.warn("encode mqtt payload failed", err)
		return
	}
	p.publish(p.StateTopic(), data)
}

// Close flushes queued messages, announces a graceful offline state and
// disconnects.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.mu.Lock()
	alreadyClosed := p.closed
	if !alreadyClosed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	if alreadyClosed {
		return nil
	}

	select {
	case <-p.sent:
	case <-time.After(p.publishTimeout):
		p.warn("mqtt queue not flushed before close", fmt.Errorf("topic %s", p.topic))
	}
	if p.client.IsConnected() {
		token := p.client.Publish(availabilityTopic(p.topic), p.qos, true, availabilityOffline)
		token.WaitTimeout(p.publishTimeout)
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (p *Publisher) publishAvailability(status string) {
	p.publish(availabilityTopic(p.topic), status)
}

// publish queues a retained message. A full queue drops the message.
func (p *Publisher) publish(topic string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- outbound{topic: topic, payload: payload}:
	default:
		p.warn("mqtt queue full; message dropped", fmt.Errorf("topic %s", topic))
	}
}

func (p *Publisher) run() {
	defer close(p.sent)
	for msg := range p.queue {
		token := p.client.Publish(msg.topic, p.qos, true, msg.payload)
		if !token.WaitTimeout(p.publishTimeout) {
			p.warn("mqtt publish timed out", fmt.Errorf("topic %s", msg.topic))
			continue
		}
		if err := token.Error(); err != nil {
			p.warn("mqtt publish failed", err)
		}
	}
}

func (p *Publisher) warn(msg string, err error) {
	if p.logger != nil {
		p.logger.Warn(msg, "error", err)
	}
}
