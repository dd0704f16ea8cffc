package fmodel

// test_helpers_test.go contains shared test doubles and a small two-decider
// domain used across the fmodel package tests.

import (
	"context"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// =============================================================================
// Shared Test Logger
// =============================================================================

// testLogger is a shared test implementation of Logger.
type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnLogs...)
}

func (l *testLogger) errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errorLogs...)
}

// =============================================================================
// Shared Test Metrics
// =============================================================================

type testProjectionMetrics struct {
	mu              sync.Mutex
	eventsProcessed int
	failures        int
	checkpointsSet  int
	errorsRecorded  int
	lastPosition    uint64
}

func (m *testProjectionMetrics) RecordEventProcessed(projectionName, eventType string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsProcessed++
	if !success {
		m.failures++
	}
}

func (m *testProjectionMetrics) RecordCheckpoint(projectionName string, position uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpointsSet++
	m.lastPosition = position
}

func (m *testProjectionMetrics) RecordError(projectionName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorsRecorded++
}

type testCommandMetrics struct {
	mu     sync.Mutex
	stages []Stage
	events []int
}

func (m *testCommandMetrics) RecordCommand(aggregate string, stage Stage, duration time.Duration, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
	m.events = append(m.events, events)
}

type testViewMetrics struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (m *testViewMetrics) RecordViewUpdate(view string, outcome Outcome, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

// =============================================================================
// Test Domain: Switch
// =============================================================================

type switchCommand interface {
	Identifier
	switchCommand()
}

type turnOn struct {
	ID string `json:"id"`
}

func (c turnOn) Identity() string { return c.ID }
func (turnOn) switchCommand()     {}

type switchEvent interface {
	Fact
	switchEvent()
}

type turnedOn struct {
	ID string `json:"id"`
}

type notTurnedOn struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (e turnedOn) Identity() string    { return e.ID }
func (turnedOn) SchemaVersion() int    { return 1 }
func (turnedOn) IsFinal() bool         { return false }
func (turnedOn) switchEvent()          {}
func (e notTurnedOn) Identity() string { return e.ID }
func (notTurnedOn) SchemaVersion() int { return 1 }
func (notTurnedOn) IsFinal() bool      { return false }
func (notTurnedOn) switchEvent()       {}

type switchState struct {
	ID string `json:"id"`
	On bool   `json:"on"`
}

func switchDecider() Decider[switchCommand, switchEvent, *switchState] {
	return Decider[switchCommand, switchEvent, *switchState]{
		Decide: func(c switchCommand, s *switchState) []switchEvent {
			cmd := c.(turnOn)
			if s != nil && s.On {
				return []switchEvent{notTurnedOn{ID: cmd.ID, Reason: "already on"}}
			}
			return []switchEvent{turnedOn{ID: cmd.ID}}
		},
		Evolve: func(s *switchState, e switchEvent) *switchState {
			if on, ok := e.(turnedOn); ok {
				return &switchState{ID: on.ID, On: true}
			}
			return s
		},
	}
}

// =============================================================================
// Test Domain: Counter
// =============================================================================

type counterCommand interface {
	Identifier
	counterCommand()
}

// add decides one added event of N. N == 0 decides nothing; a negative N
// decides an event for another stream.
type add struct {
	ID string `json:"id"`
	N  int    `json:"n"`
}

func (c add) Identity() string { return c.ID }
func (add) counterCommand()    {}

type counterEvent interface {
	Fact
	counterEvent()
}

type added struct {
	ID    string `json:"id"`
	N     int    `json:"n"`
	Final bool   `json:"final"`
}

func (e added) Identity() string { return e.ID }
func (added) SchemaVersion() int { return 2 }
func (e added) IsFinal() bool    { return e.Final }
func (added) counterEvent()      {}

func counterDecider() Decider[counterCommand, counterEvent, int] {
	return Decider[counterCommand, counterEvent, int]{
		Decide: func(c counterCommand, total int) []counterEvent {
			cmd := c.(add)
			switch {
			case cmd.N == 0:
				return nil
			case cmd.N < 0:
				return []counterEvent{added{ID: cmd.ID + "-other", N: cmd.N}}
			}
			return []counterEvent{added{ID: cmd.ID, N: cmd.N}}
		},
		Evolve: func(total int, e counterEvent) int {
			return total + e.(added).N
		},
	}
}

// =============================================================================
// Combined Test Application
// =============================================================================

type (
	testCommand = Sum[switchCommand, counterCommand]
	testEvent   = Sum[switchEvent, counterEvent]
	testState   = Pair[*switchState, int]
)

func testDecider() Decider[testCommand, testEvent, testState] {
	return Combine(switchDecider(), counterDecider())
}

func testView() View[testState, testEvent] {
	return CombineViews(switchDecider().AsView(), counterDecider().AsView())
}

func testCodec() Codec[testEvent] {
	return CombineCodecs[switchEvent, counterEvent](
		NewRegistryCodec[switchEvent]("Switch", NewJSONSerializer(), turnedOn{}, notTurnedOn{}),
		NewRegistryCodec[counterEvent]("Counter", NewJSONSerializer(), added{}),
	)
}

func switchCmd(id string) testCommand {
	return Left[switchCommand, counterCommand](turnOn{ID: id})
}

func addCmd(id string, n int) testCommand {
	return Right[switchCommand, counterCommand](add{ID: id, N: n})
}

// =============================================================================
// Test Store Doubles
// =============================================================================

// interceptingStore wraps an event store and runs beforeAppend once before
// the first Append reaches the wrapped store.
type interceptingStore struct {
	adapters.EventStoreAdapter
	beforeAppend func(ctx context.Context)
	once         sync.Once
	truncate     bool
}

func (s *interceptingStore) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	if s.beforeAppend != nil {
		s.once.Do(func() { s.beforeAppend(ctx) })
	}
	stored, err := s.EventStoreAdapter.Append(ctx, streamID, events, commandID, expected)
	if err == nil && s.truncate && len(stored) > 0 {
		return stored[:len(stored)-1], nil
	}
	return stored, err
}

// conflictingViewStore fails the first conflicts saves with a concurrency
// conflict and delegates everything else.
type conflictingViewStore struct {
	adapters.ViewStoreAdapter
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (s *conflictingViewStore) SaveView(ctx context.Context, record adapters.ViewRecord, prior adapters.Version) (*adapters.ViewRecord, error) {
	s.mu.Lock()
	s.saves++
	fail := s.saves <= s.conflicts
	s.mu.Unlock()

	if fail {
		return nil, &adapters.ConcurrencyError{StreamID: record.ViewID, ExpectedVersion: prior, ActualVersion: "other"}
	}
	return s.ViewStoreAdapter.SaveView(ctx, record, prior)
}
