package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/memory"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// fakeReader serves queued messages and blocks until the context ends
// when the queue is empty.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafkago.Message
	committed []kafkago.Message
	fetchErr  error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if r.fetchErr != nil {
		defer r.mu.Unlock()
		return kafkago.Message{}, r.fetchErr
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func storedEvent(position uint64, streamID string) adapters.StoredEvent {
	return adapters.StoredEvent{
		ID:             fmt.Sprintf("e-%d", position),
		StreamID:       streamID,
		Decider:        "Order",
		Type:           "OrderCreatedEvent",
		SchemaVersion:  1,
		Data:           []byte(`{"id":"` + streamID + `"}`),
		CommandID:      "cmd",
		Version:        adapters.Version(fmt.Sprintf("e-%d", position)),
		GlobalPosition: position,
		Timestamp:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func queued(t *testing.T, events ...adapters.StoredEvent) []kafkago.Message {
	t.Helper()
	msgs := make([]kafkago.Message, len(events))
	for i, e := range events {
		msg, err := EncodeMessage(e)
		require.NoError(t, err)
		msg.Offset = int64(i)
		msgs[i] = msg
	}
	return msgs
}

func newTestConsumer(reader *fakeReader) *Consumer {
	c := NewConsumer(WithPollWait(20 * time.Millisecond))
	c.newReader = func(string) messageReader { return reader }
	return c
}

// =============================================================================
// Publisher Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	p := New()
	assert.Equal(t, []string{"localhost:9092"}, p.brokers)
	assert.NotNil(t, p.balancer)
	assert.Equal(t, "kafka-relay", p.Name())
	assert.Equal(t, DefaultTopic, p.topicFor(storedEvent(1, "s-1")))
}

func TestNew_Options(t *testing.T) {
	balancer := &kafkago.RoundRobin{}
	p := New(
		WithBrokers("broker1:9092", "broker2:9092"),
		WithBatchTimeout(500*time.Millisecond),
		WithBalancer(balancer),
		WithPublisherName("relay"),
		WithTopicPerDecider("events."),
	)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, p.brokers)
	assert.Equal(t, 500*time.Millisecond, p.batchTimeout)
	assert.Equal(t, balancer, p.balancer)
	assert.Equal(t, "relay", p.Name())
	assert.Equal(t, "events.Order", p.topicFor(storedEvent(1, "s-1")))
}

func TestEncodeDecodeMessage(t *testing.T) {
	event := storedEvent(7, "order-1")

	msg, err := EncodeMessage(event)
	require.NoError(t, err)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.Equal(t, "7", header(msg, HeaderGlobalPosition))
	assert.Equal(t, "Order", header(msg, HeaderDecider))
	assert.Equal(t, "OrderCreatedEvent", header(msg, HeaderEventType))
	assert.Equal(t, "e-7", header(msg, HeaderEventID))

	decoded, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)

	_, err = DecodeMessage(kafkago.Message{Value: []byte("not json")})
	assert.ErrorIs(t, err, fmodel.ErrSerializationFailed)
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("groups events per topic", func(t *testing.T) {
		writers := map[string]*fakeWriter{}
		p := New(WithTopicPerDecider("events."))
		p.newWriter = func(topic string) messageWriter {
			w := &fakeWriter{}
			writers[topic] = w
			return w
		}

		order := storedEvent(1, "o-1")
		rest := storedEvent(2, "r-1")
		rest.Decider = "Restaurant"

		require.NoError(t, p.Publish(ctx, []adapters.StoredEvent{order, rest, storedEvent(3, "o-1")}))

		require.Len(t, writers, 2)
		assert.Len(t, writers["events.Order"].messages, 2)
		assert.Len(t, writers["events.Restaurant"].messages, 1)

		require.NoError(t, p.Close())
		assert.True(t, writers["events.Order"].closed)
	})

	t.Run("wraps write errors", func(t *testing.T) {
		p := New()
		p.newWriter = func(string) messageWriter { return &fakeWriter{err: errors.New("broker down")} }

		err := p.HandleEvent(ctx, storedEvent(1, "o-1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
		assert.Contains(t, err.Error(), DefaultTopic)
	})

	t.Run("rejects an empty topic", func(t *testing.T) {
		p := New(WithTopic(""))
		err := p.Publish(ctx, []adapters.StoredEvent{storedEvent(1, "o-1")})
		assert.Error(t, err)
	})
}

func TestPublisher_RelaysApplicationEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	writer := &fakeWriter{}
	p := New(WithTopic("restaurant-events"))
	p.newWriter = func(string) messageWriter { return writer }

	aggregate := restaurant.NewAggregate(store, restaurant.NewCodec(nil))
	_, err := aggregate.Handle(ctx, restaurant.CreateRestaurant(restaurant.CreateRestaurantCommand{
		ID: "r-1", Name: "Eat at Joes",
		Menu: restaurant.RestaurantMenu{MenuID: "m-1", Cuisine: restaurant.CuisineSerbian},
	}))
	require.NoError(t, err)

	runner := fmodel.NewProjectionRunner(store, p)
	n, err := runner.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, writer.messages, 1)
	assert.Equal(t, []byte("r-1"), writer.messages[0].Key)
	assert.Equal(t, "RestaurantCreatedEvent", header(writer.messages[0], HeaderEventType))
	assert.Equal(t, uint64(1), store.Checkpoint(p.Name()))
}

// =============================================================================
// Consumer Tests
// =============================================================================

func TestConsumer_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("returns fetched events without waiting for a full batch", func(t *testing.T) {
		reader := &fakeReader{queue: queued(t, storedEvent(1, "a"), storedEvent(2, "b"))}
		c := newTestConsumer(reader)

		events, err := c.Poll(ctx, "view", 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(1), events[0].GlobalPosition)
		assert.Equal(t, uint64(2), events[1].GlobalPosition)
	})

	t.Run("empty topic yields no events", func(t *testing.T) {
		c := newTestConsumer(&fakeReader{})

		events, err := c.Poll(ctx, "view", 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("respects the limit", func(t *testing.T) {
		reader := &fakeReader{queue: queued(t, storedEvent(1, "a"), storedEvent(2, "a"), storedEvent(3, "a"))}
		c := newTestConsumer(reader)

		events, err := c.Poll(ctx, "view", 2)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("redelivers unacknowledged events", func(t *testing.T) {
		reader := &fakeReader{queue: queued(t, storedEvent(1, "a"), storedEvent(2, "a"))}
		c := newTestConsumer(reader)

		first, err := c.Poll(ctx, "view", 10)
		require.NoError(t, err)
		require.Len(t, first, 2)

		require.NoError(t, c.Ack(ctx, "view", 1))

		again, err := c.Poll(ctx, "view", 10)
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, uint64(2), again[0].GlobalPosition)

		require.Len(t, reader.committed, 1)
		assert.Equal(t, "1", header(reader.committed[0], HeaderGlobalPosition))
	})

	t.Run("ack commits the delivered prefix", func(t *testing.T) {
		reader := &fakeReader{queue: queued(t, storedEvent(5, "a"), storedEvent(3, "b"), storedEvent(6, "a"))}
		c := newTestConsumer(reader)

		_, err := c.Poll(ctx, "view", 10)
		require.NoError(t, err)

		require.NoError(t, c.Ack(ctx, "view", 3))
		assert.Len(t, reader.committed, 2)

		rest, err := c.Poll(ctx, "view", 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, uint64(6), rest[0].GlobalPosition)
	})

	t.Run("ack of a position never polled is an error", func(t *testing.T) {
		reader := &fakeReader{}
		c := newTestConsumer(reader)

		assert.ErrorIs(t, c.Ack(ctx, "view", 42), ErrPositionNotBuffered)
		assert.Empty(t, reader.committed)
	})

	t.Run("ack of an already committed position is an error", func(t *testing.T) {
		reader := &fakeReader{queue: queued(t, storedEvent(1, "a"), storedEvent(2, "a"))}
		c := newTestConsumer(reader)

		_, err := c.Poll(ctx, "view", 10)
		require.NoError(t, err)
		require.NoError(t, c.Ack(ctx, "view", 2))

		err = c.Ack(ctx, "view", 1)
		assert.ErrorIs(t, err, ErrPositionNotBuffered)
		assert.Contains(t, err.Error(), "view at 1")
		assert.Len(t, reader.committed, 2)
	})

	t.Run("fetch errors", func(t *testing.T) {
		c := newTestConsumer(&fakeReader{fetchErr: errors.New("rebalance")})

		_, err := c.Poll(ctx, "view", 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rebalance")
	})

	t.Run("empty consumer name", func(t *testing.T) {
		c := newTestConsumer(&fakeReader{})

		_, err := c.Poll(ctx, "", 10)
		assert.ErrorIs(t, err, adapters.ErrEmptyConsumer)
		assert.ErrorIs(t, c.Ack(ctx, "", 1), adapters.ErrEmptyConsumer)
	})

	t.Run("closed consumer", func(t *testing.T) {
		reader := &fakeReader{}
		c := newTestConsumer(reader)
		_, err := c.Poll(ctx, "view", 1)
		require.NoError(t, err)

		require.NoError(t, c.Close())
		assert.True(t, reader.closed)

		_, err = c.Poll(ctx, "view", 1)
		assert.ErrorIs(t, err, adapters.ErrAdapterClosed)
		assert.ErrorIs(t, c.Ack(ctx, "view", 1), adapters.ErrAdapterClosed)
		assert.NoError(t, c.Close())
	})
}

func TestConsumer_FeedsMaterializedView(t *testing.T) {
	ctx := context.Background()
	source := memory.NewAdapter()
	codec := restaurant.NewCodec(nil)

	aggregate := restaurant.NewAggregate(source, codec)
	_, err := aggregate.Handle(ctx, restaurant.CreateRestaurant(restaurant.CreateRestaurantCommand{
		ID: "r-1", Name: "Eat at Joes",
		Menu: restaurant.RestaurantMenu{MenuID: "m-1", Cuisine: restaurant.CuisineSerbian},
	}))
	require.NoError(t, err)

	events, err := source.LoadFromPosition(ctx, 0, 10)
	require.NoError(t, err)
	reader := &fakeReader{queue: queued(t, events...)}
	c := newTestConsumer(reader)

	views := memory.NewAdapter()
	view := restaurant.NewMaterializedView(views, codec, nil)
	runner := fmodel.NewProjectionRunner(c, view)

	n, err := runner.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, reader.committed, 1)

	state, _, err := view.Fetch(ctx, "r-1")
	require.NoError(t, err)
	require.NotNil(t, state.First)
	assert.Equal(t, "Eat at Joes", state.First.Name)
}

// =============================================================================
// Integration tests
// =============================================================================

func setupIntegration(t *testing.T) (string, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test (short mode)")
	}
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}

	topic := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	createTopic(t, brokers, topic)
	return brokers, topic
}

// createTopic pre-creates a Kafka topic and waits until it's available.
func createTopic(t *testing.T, brokers string, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("topic %s not available after 10s", topic)
}

func TestKafka_RelayAndConsume_Integration(t *testing.T) {
	brokers, topic := setupIntegration(t)
	ctx := context.Background()

	p := New(WithBrokers(brokers), WithTopic(topic))
	p.transport = &kafkago.Transport{}
	defer p.Close()

	require.NoError(t, p.Publish(ctx, []adapters.StoredEvent{storedEvent(1, "o-1"), storedEvent(2, "o-1")}))

	c := NewConsumer(WithConsumerBrokers(brokers), WithConsumerTopic(topic), WithPollWait(10*time.Second))
	defer c.Close()

	events, err := c.Poll(ctx, "it-group", 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "o-1", events[0].StreamID)

	require.NoError(t, c.Ack(ctx, "it-group", events[len(events)-1].GlobalPosition))
}
