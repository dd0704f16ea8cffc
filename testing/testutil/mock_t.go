package testutil

import (
	"runtime"
	"testing"
)

// MockT is a testing.TB that records failures instead of reporting them,
// for testing assertion helpers.
type MockT struct {
	testing.TB // embed to satisfy unexported methods
	Failed_    bool
	Fatal_     bool
	Message    string
	Logs       []string
}

// NewMockT creates a new MockT instance.
func NewMockT() *MockT {
	return &MockT{Logs: make([]string, 0)}
}

// Helper implements testing.TB.
func (m *MockT) Helper() {}

// Log implements testing.TB.
func (m *MockT) Log(args ...any) {
	for _, a := range args {
		if s, ok := a.(string); ok {
			m.Logs = append(m.Logs, s)
		}
	}
}

// Logf implements testing.TB.
func (m *MockT) Logf(format string, _ ...any) {
	m.Logs = append(m.Logs, format)
}

// Error implements testing.TB.
func (m *MockT) Error(args ...any) {
	m.Failed_ = true
	if len(args) > 0 {
		if msg, ok := args[0].(string); ok {
			m.Message = msg
		}
	}
}

// Errorf implements testing.TB.
func (m *MockT) Errorf(format string, args ...any) {
	m.Failed_ = true
	m.Message = format
}

// Fail implements testing.TB.
func (m *MockT) Fail() { m.Failed_ = true }

// FailNow implements testing.TB.
func (m *MockT) FailNow() {
	m.Failed_ = true
	runtime.Goexit()
}

// Failed implements testing.TB.
func (m *MockT) Failed() bool { return m.Failed_ }

// Fatal implements testing.TB.
func (m *MockT) Fatal(args ...any) {
	m.Failed_ = true
	m.Fatal_ = true
	if len(args) > 0 {
		if msg, ok := args[0].(string); ok {
			m.Message = msg
		}
	}
	runtime.Goexit()
}

// Fatalf implements testing.TB.
func (m *MockT) Fatalf(format string, args ...any) {
	m.Failed_ = true
	m.Fatal_ = true
	m.Message = format
	runtime.Goexit()
}

// RunWithMockT runs fn on its own goroutine so that Fatal and FailNow can
// exit it, and returns the MockT once fn is done.
func RunWithMockT(fn func(m *MockT)) *MockT {
	mt := NewMockT()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done
	return mt
}
