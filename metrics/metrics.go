// Package metrics tracks engine activity with lock-free counters.
package metrics

import "sync/atomic"

// Counters is the set of engine counters. Increment fields directly with
// Add(1); read them only through Snapshot.
type Counters struct {
	MessagesSent      atomic.Int64
	LegacySent        atomic.Int64
	SelfCopyFailures  atomic.Int64
	WrapsReceived     atomic.Int64
	WrapsRejected     atomic.Int64
	DuplicatesDropped atomic.Int64
	PublishFailures   atomic.Int64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	MessagesSent      int64
	LegacySent        int64
	SelfCopyFailures  int64
	WrapsReceived     int64
	WrapsRejected     int64
	DuplicatesDropped int64
	PublishFailures   int64
}

// Snapshot reads every counter once. Values are individually consistent, not
// a cross-counter atomic view.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:      c.MessagesSent.Load(),
		LegacySent:        c.LegacySent.Load(),
		SelfCopyFailures:  c.SelfCopyFailures.Load(),
		WrapsReceived:     c.WrapsReceived.Load(),
		WrapsRejected:     c.WrapsRejected.Load(),
		DuplicatesDropped: c.DuplicatesDropped.Load(),
		PublishFailures:   c.PublishFailures.Load(),
	}
}
