// Package kafka relays stored events to Kafka topics and consumes them back
// as an at-least-once feed, using github.com/segmentio/kafka-go.
//
// Messages are keyed by stream identity so the events of one stream land in
// one partition and keep their append order. The value is the JSON encoding
// of the stored event.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Header keys set on every relayed message.
const (
	HeaderEventID        = "fmodel-event-id"
	HeaderDecider        = "fmodel-decider"
	HeaderEventType      = "fmodel-event-type"
	HeaderGlobalPosition = "fmodel-global-position"
)

// DefaultTopic is the topic used when no topic option is given.
const DefaultTopic = "fmodel-events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher relays stored events to Kafka. It implements fmodel.EventHandler
// so a projection runner can drive it from any feed.
type Publisher struct {
	name         string
	brokers      []string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper
	topicFor     func(adapters.StoredEvent) string
	newWriter    func(topic string) messageWriter
	mu           sync.RWMutex
	writers      map[string]messageWriter
}

var _ fmodel.EventHandler = (*Publisher)(nil)

// Option configures a Kafka Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithTopic sends every event to topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topicFor = func(adapters.StoredEvent) string { return topic }
	}
}

// WithTopicPerDecider sends each event to prefix followed by its decider tag,
// e.g. "events.Restaurant".
func WithTopicPerDecider(prefix string) Option {
	return func(p *Publisher) {
		p.topicFor = func(e adapters.StoredEvent) string { return prefix + e.Decider }
	}
}

// WithPublisherName sets the handler name, which is the feed consumer name
// of the runner driving the publisher.
func WithPublisherName(name string) Option {
	return func(p *Publisher) {
		p.name = name
	}
}

// New creates a new Kafka Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		name:         "kafka-relay",
		brokers:      []string{"localhost:9092"},
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		topicFor:     func(adapters.StoredEvent) string { return DefaultTopic },
		writers:      make(map[string]messageWriter),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.newWriter == nil {
		p.newWriter = p.kafkaWriter
	}
	return p
}

// Name implements fmodel.EventHandler.
func (p *Publisher) Name() string {
	return p.name
}

// HandleEvent implements fmodel.EventHandler by relaying one event.
func (p *Publisher) HandleEvent(ctx context.Context, event adapters.StoredEvent) error {
	return p.Publish(ctx, []adapters.StoredEvent{event})
}

// Publish writes events to their topics, grouped per topic in order.
func (p *Publisher) Publish(ctx context.Context, events []adapters.StoredEvent) error {
	grouped := make(map[string][]kafkago.Message)
	var order []string
	for _, event := range events {
		topic := p.topicFor(event)
		if topic == "" {
			return fmt.Errorf("kafka: no topic for event %s of stream %q", event.ID, event.StreamID)
		}

		msg, err := EncodeMessage(event)
		if err != nil {
			return err
		}
		if _, ok := grouped[topic]; !ok {
			order = append(order, topic)
		}
		grouped[topic] = append(grouped[topic], msg)
	}

	for _, topic := range order {
		if err := p.getWriter(topic).WriteMessages(ctx, grouped[topic]...); err != nil {
			return fmt.Errorf("kafka: failed to write to topic %s: %w", topic, err)
		}
	}
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			return err
		}
		delete(p.writers, topic)
	}
	return nil
}

// getWriter returns or creates a Kafka writer for the given topic.
func (p *Publisher) getWriter(topic string) messageWriter {
	p.mu.RLock()
	if w, ok := p.writers[topic]; ok {
		p.mu.RUnlock()
		return w
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

func (p *Publisher) kafkaWriter(topic string) messageWriter {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               p.balancer,
		BatchTimeout:           p.batchTimeout,
		Transport:              p.transport,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// EncodeMessage converts a stored event to a Kafka message.
func EncodeMessage(event adapters.StoredEvent) (kafkago.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmodel.NewSerializationError(event.Type, "encode message", err)
	}

	return kafkago.Message{
		Key:   []byte(event.StreamID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: HeaderEventID, Value: []byte(event.ID)},
			{Key: HeaderDecider, Value: []byte(event.Decider)},
			{Key: HeaderEventType, Value: []byte(event.Type)},
			{Key: HeaderGlobalPosition, Value: []byte(strconv.FormatUint(event.GlobalPosition, 10))},
		},
	}, nil
}

// DecodeMessage converts a Kafka message back to a stored event.
func DecodeMessage(msg kafkago.Message) (adapters.StoredEvent, error) {
	var event adapters.StoredEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, fmodel.NewSerializationError(header(msg, HeaderEventType), "decode message", err)
	}
	return event, nil
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
