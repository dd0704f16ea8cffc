package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

const drainWait = 10 * time.Millisecond

// ErrPositionNotBuffered is returned by Ack for a position that no pending
// Poll result holds, either never delivered or already committed.
var ErrPositionNotBuffered = errors.New("kafka: position not buffered")

type pending struct {
	event adapters.StoredEvent
	msg   kafkago.Message
}

// Consumer reads relayed events back from Kafka. It implements
// adapters.FeedAdapter: each feed consumer name is a Kafka consumer group.
//
// Fetched events stay buffered until acknowledged, so an event whose handler
// failed is returned again by the next Poll. Offsets are committed on Ack.
type Consumer struct {
	brokers   []string
	topic     string
	pollWait  time.Duration
	newReader func(group string) messageReader

	mu       sync.Mutex
	readers  map[string]messageReader
	buffered map[string][]pending
	closed   bool
}

var _ adapters.FeedAdapter = (*Consumer)(nil)

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerBrokers sets the Kafka broker addresses.
func WithConsumerBrokers(brokers ...string) ConsumerOption {
	return func(c *Consumer) {
		c.brokers = brokers
	}
}

// WithConsumerTopic sets the topic to read.
func WithConsumerTopic(topic string) ConsumerOption {
	return func(c *Consumer) {
		c.topic = topic
	}
}

// WithPollWait bounds how long Poll waits for the first message.
func WithPollWait(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pollWait = d
	}
}

// NewConsumer creates a new Kafka Consumer.
func NewConsumer(opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		brokers:  []string{"localhost:9092"},
		topic:    DefaultTopic,
		pollWait: time.Second,
		readers:  make(map[string]messageReader),
		buffered: make(map[string][]pending),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.newReader == nil {
		c.newReader = c.kafkaReader
	}
	return c
}

// Poll returns up to limit events for consumer, starting with the events it
// has fetched but not acknowledged.
func (c *Consumer) Poll(ctx context.Context, consumer string, limit int) ([]adapters.StoredEvent, error) {
	if consumer == "" {
		return nil, adapters.ErrEmptyConsumer
	}
	if limit <= 0 {
		limit = 100
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, adapters.ErrAdapterClosed
	}

	reader := c.readerFor(consumer)
	buffered := c.buffered[consumer]

	wait := c.pollWait
	if len(buffered) > 0 {
		wait = drainWait
	}
	for len(buffered) < limit {
		msg, err := fetch(ctx, reader, wait)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			c.buffered[consumer] = buffered
			return nil, fmt.Errorf("kafka: failed to fetch from topic %s: %w", c.topic, err)
		}

		event, err := DecodeMessage(msg)
		if err != nil {
			c.buffered[consumer] = buffered
			return nil, err
		}
		buffered = append(buffered, pending{event: event, msg: msg})

		// Return what is already buffered instead of waiting for a full batch.
		wait = drainWait
	}
	c.buffered[consumer] = buffered

	n := min(limit, len(buffered))
	events := make([]adapters.StoredEvent, n)
	for i := range n {
		events[i] = buffered[i].event
	}
	return events, nil
}

// Ack commits every buffered event of consumer up to and including the one
// at position. A position outside the buffer returns ErrPositionNotBuffered
// and commits nothing.
func (c *Consumer) Ack(ctx context.Context, consumer string, position uint64) error {
	if consumer == "" {
		return adapters.ErrEmptyConsumer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return adapters.ErrAdapterClosed
	}

	buffered := c.buffered[consumer]
	cut := -1
	for i, p := range buffered {
		if p.event.GlobalPosition == position {
			cut = i
			break
		}
	}
	if cut < 0 {
		return fmt.Errorf("%w: %s at %d", ErrPositionNotBuffered, consumer, position)
	}

	msgs := make([]kafkago.Message, cut+1)
	for i := 0; i <= cut; i++ {
		msgs[i] = buffered[i].msg
	}
	if err := c.readerFor(consumer).CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: failed to commit offsets for %s: %w", consumer, err)
	}

	c.buffered[consumer] = buffered[cut+1:]
	return nil
}

// Close closes every reader.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for group, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.readers, group)
	}
	return errors.Join(errs...)
}

func fetch(ctx context.Context, r messageReader, wait time.Duration) (kafkago.Message, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return r.FetchMessage(waitCtx)
}

// readerFor must be called with c.mu held.
func (c *Consumer) readerFor(group string) messageReader {
	r, ok := c.readers[group]
	if !ok {
		r = c.newReader(group)
		c.readers[group] = r
	}
	return r
}

func (c *Consumer) kafkaReader(group string) messageReader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     c.brokers,
		Topic:       c.topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     c.pollWait,
		StartOffset: kafkago.FirstOffset,
	})
}
