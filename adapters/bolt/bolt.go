// Package bolt provides an embedded event store, view store and feed backed
// by go.etcd.io/bbolt.
//
// Layout:
//
//	events/<position>             stored event (JSON)
//	streams/<stream>/<position>   per-stream index
//	versions/<stream>             stream token
//	commands/<command>/<position> causal command index
//	views/<view>                  view record (JSON)
//	checkpoints/<consumer>        last acknowledged position
//
// Every append runs in one bbolt read-write transaction, so the stream
// index, the global index and the token move together.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

var (
	_ adapters.EventStoreAdapter   = (*Adapter)(nil)
	_ adapters.GlobalLogAdapter    = (*Adapter)(nil)
	_ adapters.CommandIndexAdapter = (*Adapter)(nil)
	_ adapters.ViewStoreAdapter    = (*Adapter)(nil)
	_ adapters.FeedAdapter         = (*Adapter)(nil)
	_ adapters.HealthChecker       = (*Adapter)(nil)
)

var (
	bucketEvents      = []byte("events")
	bucketStreams     = []byte("streams")
	bucketVersions    = []byte("versions")
	bucketCommands    = []byte("commands")
	bucketViews       = []byte("views")
	bucketCheckpoints = []byte("checkpoints")
)

// Adapter is a bbolt-backed adapter. One process owns the file at a time.
type Adapter struct {
	db     *bbolt.DB
	closed atomic.Bool
	now    func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// Open opens the database at path and creates the buckets.
func Open(path string, opts ...Option) (*Adapter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("fmodel/bolt: storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("fmodel/bolt: failed to open database: %w", err)
	}

	a := &Adapter{db: db, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// Initialize creates the buckets if they do not exist.
func (a *Adapter) Initialize(ctx context.Context) error {
	if err := a.check(ctx); err != nil {
		return err
	}

	return a.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEvents, bucketStreams, bucketVersions, bucketCommands, bucketViews, bucketCheckpoints} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("fmodel/bolt: failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Append stores events to the stream if its token equals expected.
func (a *Adapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}
	if err := adapters.ValidateAppend(streamID, events); err != nil {
		return nil, err
	}

	positions := make([]uint64, len(events))
	err := a.db.Update(func(tx *bbolt.Tx) error {
		versions := tx.Bucket(bucketVersions)
		current := adapters.Version(versions.Get([]byte(streamID)))
		if err := adapters.CheckVersion(streamID, expected, current); err != nil {
			return err
		}

		global := tx.Bucket(bucketEvents)
		stream, err := tx.Bucket(bucketStreams).CreateBucketIfNotExists([]byte(streamID))
		if err != nil {
			return fmt.Errorf("fmodel/bolt: failed to create stream index: %w", err)
		}

		now := a.now()
		var version adapters.Version
		for i, record := range events {
			position, err := global.NextSequence()
			if err != nil {
				return fmt.Errorf("fmodel/bolt: failed to allocate position: %w", err)
			}
			id := adapters.NewEventID()
			version = adapters.Version(id)

			payload, err := json.Marshal(adapters.StoredEvent{
				ID:             id,
				StreamID:       streamID,
				Decider:        record.Decider,
				Type:           record.Type,
				SchemaVersion:  record.SchemaVersion,
				Final:          record.Final,
				Data:           record.Data,
				CommandID:      commandID,
				Version:        version,
				GlobalPosition: position,
				Timestamp:      now,
			})
			if err != nil {
				return fmt.Errorf("fmodel/bolt: failed to encode event: %w", err)
			}

			key := positionKey(position)
			if err := global.Put(key, payload); err != nil {
				return fmt.Errorf("fmodel/bolt: failed to write event: %w", err)
			}
			if err := stream.Put(key, []byte{}); err != nil {
				return fmt.Errorf("fmodel/bolt: failed to index event: %w", err)
			}
			positions[i] = position
		}

		if commandID != "" {
			index, err := tx.Bucket(bucketCommands).CreateBucketIfNotExists([]byte(commandID))
			if err != nil {
				return fmt.Errorf("fmodel/bolt: failed to create command index: %w", err)
			}
			for _, position := range positions {
				if err := index.Put(positionKey(position), []byte{}); err != nil {
					return fmt.Errorf("fmodel/bolt: failed to index command: %w", err)
				}
			}
		}

		return versions.Put([]byte(streamID), []byte(version))
	})
	if err != nil {
		return nil, err
	}

	return a.readBack(streamID, positions)
}

func (a *Adapter) readBack(streamID string, positions []uint64) ([]adapters.StoredEvent, error) {
	stored := make([]adapters.StoredEvent, len(positions))
	err := a.db.View(func(tx *bbolt.Tx) error {
		global := tx.Bucket(bucketEvents)
		for i, position := range positions {
			event, ok, err := decodeEvent(global.Get(positionKey(position)))
			if err != nil {
				return err
			}
			if !ok {
				return &adapters.InconsistencyError{StreamID: streamID}
			}
			stored[i] = event
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Fetch retrieves all events of a stream in append order.
func (a *Adapter) Fetch(ctx context.Context, streamID string) ([]adapters.StoredEvent, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	var events []adapters.StoredEvent
	err := a.db.View(func(tx *bbolt.Tx) error {
		var err error
		events, err = collect(tx, tx.Bucket(bucketStreams).Bucket([]byte(streamID)))
		return err
	})
	return events, err
}

// CurrentVersion returns the stream token, or NoVersion for an unknown stream.
func (a *Adapter) CurrentVersion(ctx context.Context, streamID string) (adapters.Version, error) {
	if err := a.check(ctx); err != nil {
		return adapters.NoVersion, err
	}

	var version adapters.Version
	err := a.db.View(func(tx *bbolt.Tx) error {
		version = adapters.Version(tx.Bucket(bucketVersions).Get([]byte(streamID)))
		return nil
	})
	return version, err
}

// LoadByCommand returns the events appended for commandID.
func (a *Adapter) LoadByCommand(ctx context.Context, commandID string) ([]adapters.StoredEvent, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var events []adapters.StoredEvent
	err := a.db.View(func(tx *bbolt.Tx) error {
		var err error
		events, err = collect(tx, tx.Bucket(bucketCommands).Bucket([]byte(commandID)))
		return err
	})
	return events, err
}

// LoadFromPosition loads events with a global position greater than fromPosition.
func (a *Adapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var events []adapters.StoredEvent
	err := a.db.View(func(tx *bbolt.Tx) error {
		var err error
		events, err = loadFrom(tx, fromPosition, adapters.DefaultLimit(limit, 1000))
		return err
	})
	return events, err
}

// GetLastPosition returns the global position of the last stored event.
func (a *Adapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if err := a.check(ctx); err != nil {
		return 0, err
	}

	var last uint64
	err := a.db.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(bucketEvents).Cursor().Last()
		if k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}

// Ping reports whether the database is open.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.check(ctx)
}

// Close closes the database.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

// Path returns the database file path.
func (a *Adapter) Path() string {
	return a.db.Path()
}

func (a *Adapter) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return nil
}

func positionKey(position uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, position)
	return key
}

func decodeEvent(payload []byte) (adapters.StoredEvent, bool, error) {
	var event adapters.StoredEvent
	if payload == nil {
		return event, false, nil
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, false, fmt.Errorf("fmodel/bolt: failed to decode event: %w", err)
	}
	return event, true, nil
}

// collect resolves an index bucket of position keys against the global index.
func collect(tx *bbolt.Tx, index *bbolt.Bucket) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)
	if index == nil {
		return events, nil
	}

	global := tx.Bucket(bucketEvents)
	err := index.ForEach(func(k, _ []byte) error {
		event, ok, err := decodeEvent(global.Get(k))
		if err != nil {
			return err
		}
		if !ok {
			return errors.Join(adapters.ErrStoreInconsistent,
				fmt.Errorf("fmodel/bolt: position %d is indexed but missing", binary.BigEndian.Uint64(k)))
		}
		events = append(events, event)
		return nil
	})
	return events, err
}

func loadFrom(tx *bbolt.Tx, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)
	c := tx.Bucket(bucketEvents).Cursor()
	for k, v := c.Seek(positionKey(fromPosition + 1)); k != nil && len(events) < limit; k, v = c.Next() {
		event, _, err := decodeEvent(v)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
