// Package fmodel provides functional event sourcing primitives for Go applications.
//
// Business logic is written as pure state machines: a Decider turns a command
// and the current state into new events, and a View folds events into a
// denormalized read model. Machines from independent sub-domains are merged
// with Combine and CombineViews, and the result is wired to storage through an
// EventSourcingAggregate (command side) and a MaterializedView driven by a
// ProjectionRunner (query side).
//
// # Quick Start
//
// Create an aggregate with the in-memory adapter for development:
//
//	import (
//	    "github.com/AshkanYarmoradi/go-fmodel"
//	    "github.com/AshkanYarmoradi/go-fmodel/adapters/memory"
//	)
//
//	adapter := memory.NewAdapter()
//	aggregate := fmodel.NewEventSourcingAggregate(decider, adapter, codec)
//	events, err := aggregate.Handle(ctx, command)
//
// For production, use the PostgreSQL adapter:
//
//	adapter, err := postgres.NewAdapter(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Defining Deciders
//
// A Decider is a value holding three pure functions:
//
//	decider := fmodel.Decider[OrderCommand, OrderEvent, *Order]{
//	    Decide:       decideOrder,
//	    Evolve:       evolveOrder,
//	    InitialState: nil,
//	}
//
// Deciders over different types combine into one machine whose commands and
// events are tagged unions and whose state is a pair:
//
//	all := fmodel.Combine(restaurantDecider, orderDecider)
//
// # Error Handling
//
// Domain rule violations are ordinary events. Errors returned by Handle are
// either concurrency conflicts, which are safe to retry:
//
//	if errors.Is(err, fmodel.ErrConcurrencyConflict) {
//	    // Refetch and retry
//	}
//
// or infrastructure failures, which are not.
package fmodel

import "github.com/AshkanYarmoradi/go-fmodel/adapters"

// Version is the current version of go-fmodel.
const Version = "0.1.0"

// StoredEvent is a persisted event with its storage metadata.
type StoredEvent = adapters.StoredEvent

// StreamVersion is an opaque stream or view version token.
type StreamVersion = adapters.Version

// NoVersion is the token of a stream or view that has never been written.
const NoVersion = adapters.NoVersion
