// Package testutil provides test doubles for code built on fmodel: a
// recording MockT, a recording and failing event handler, a store that
// injects errors, and stored-event fixtures.
package testutil
