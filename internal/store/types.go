// Package store provides the SQLite run ledger for dragcheck.
package store

import "time"

// Run is one scored replay. Raw pointer samples are never stored.
type Run struct {
	ID              string
	Source          string // recording path, "simulate:<profile>", or "-"
	Digest          string // blake2b-256 of the recording, hex
	StartedAt       time.Time
	Outcome         string
	Reasons         []string
	Accuracy        float64
	SearchTime      float64 // NaN when a milestone was missing
	HumanLikelihood float64
	Samples         int
	DragAttempts    int
	Discarded       int
	Resets          int
}

// Stats summarises the ledger.
type Stats struct {
	Total        int
	ByOutcome    map[string]int
	ByReason     map[string]int
	MeanAccuracy float64 // over scored runs; 0 when there are none
}

// Options tunes the SQLite connection.
type Options struct {
	// BusyTimeoutMs is how long a writer waits on a locked database.
	BusyTimeoutMs int

	// MaxConnections caps the pool. In-memory databases always use one.
	MaxConnections int
}
