// Package sink provides optional downstream fan-out for decoded events, on
// top of the store.Store durability path (§5.7 of the scan spec). A
// Controller may be configured with zero or more Sinks; none of them are
// load-bearing for gap-free coverage, which is the Store's job.
package sink

import "github.com/example/evmscan/internal/decoder"

// Sink defines the behaviour expected from any storage back-end fed decoded
// events (CSV, MySQL, webhooks, etc). Implementations should be
// thread-safe: the scanner's drain loop may call Write from more than one
// phase's goroutine over the life of a process.
//
// Returning an error allows the caller to trigger a retry mechanism
// configured at a higher level (see RetrySink).
type Sink interface {
	// Write persists the provided event and returns an error if the
	// operation fails for any reason.
	Write(decoder.Event) error
}
