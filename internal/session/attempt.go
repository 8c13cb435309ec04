// Package session holds the mutable state of one challenge attempt.
//
// An Attempt is owned by the challenge controller and handed by reference to
// the recorder and the scoring code. A reset never mutates an Attempt in
// place; the controller builds a fresh one and the old value is dropped.
package session

import (
	"math"

	"github.com/google/uuid"

	"dragcheck/internal/telemetry"
)

// Attempt is the per-attempt telemetry log, milestones and counters.
type Attempt struct {
	ID           string
	PageLoadTime int64

	log telemetry.Log

	firstMove      int64
	hasFirstMove   bool
	targetFound    int64
	hasTargetFound bool
	dragAttempts   int
}

// New starts an empty attempt. pageLoad is the host time (ms) at which the
// page became interactive.
func New(pageLoad int64) *Attempt {
	return &Attempt{
		ID:           uuid.New().String(),
		PageLoadTime: pageLoad,
	}
}

// Append implements telemetry.Sink. The first sample sets the first-move
// milestone.
func (a *Attempt) Append(s telemetry.PointSample) {
	a.log.Append(s)
	a.MarkFirstMove(s.Timestamp)
}

// MarkFirstMove records the first qualifying motion. Later calls are ignored.
func (a *Attempt) MarkFirstMove(t int64) bool {
	if a.hasFirstMove {
		return false
	}
	a.firstMove = t
	a.hasFirstMove = true
	return true
}

// MarkTargetFound records the matching drop. Later calls are ignored.
func (a *Attempt) MarkTargetFound(t int64) bool {
	if a.hasTargetFound {
		return false
	}
	a.targetFound = t
	a.hasTargetFound = true
	return true
}

// IncrementAttempts counts a mismatched drop and returns the new total.
func (a *Attempt) IncrementAttempts() int {
	a.dragAttempts++
	return a.dragAttempts
}

// FirstMove returns the first-move milestone.
func (a *Attempt) FirstMove() (int64, bool) {
	return a.firstMove, a.hasFirstMove
}

// TargetFound returns the target-found milestone.
func (a *Attempt) TargetFound() (int64, bool) {
	return a.targetFound, a.hasTargetFound
}

// DragAttempts returns the mismatched drop count.
func (a *Attempt) DragAttempts() int {
	return a.dragAttempts
}

// SampleCount returns the number of recorded samples.
func (a *Attempt) SampleCount() int {
	return a.log.Len()
}

// Snapshot copies the attempt for scoring.
func (a *Attempt) Snapshot() Snapshot {
	return Snapshot{
		ID:              a.ID,
		Samples:         a.log.Samples(),
		FirstMoveTime:   a.firstMove,
		HasFirstMove:    a.hasFirstMove,
		TargetFoundTime: a.targetFound,
		HasTargetFound:  a.hasTargetFound,
		DragAttempts:    a.dragAttempts,
		PageLoadTime:    a.PageLoadTime,
	}
}

// Snapshot is an immutable copy of an Attempt.
type Snapshot struct {
	ID              string
	Samples         []telemetry.PointSample
	FirstMoveTime   int64
	HasFirstMove    bool
	TargetFoundTime int64
	HasTargetFound  bool
	DragAttempts    int
	PageLoadTime    int64
}

// SearchTime is the delay in seconds between first motion and the matching
// drop. It is NaN when either milestone is missing.
func (s Snapshot) SearchTime() float64 {
	if !s.HasFirstMove || !s.HasTargetFound {
		return math.NaN()
	}
	return float64(s.TargetFoundTime-s.FirstMoveTime) / 1000
}

// TotalTime is the time in seconds from page load to now.
func (s Snapshot) TotalTime(now int64) float64 {
	return float64(now-s.PageLoadTime) / 1000
}
