// Package telemetry captures pointer samples for a single challenge attempt.
package telemetry

import "math"

// PointSample is one observation of pointer position.
type PointSample struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Timestamp  int64   `json:"t"` // milliseconds, host epoch
	IsDragging bool    `json:"dragging"`
}

// Finite reports whether both coordinates are real numbers.
func (p PointSample) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Log is the ordered, append-only sample sequence of one attempt.
// The zero value is an empty log ready for use.
type Log struct {
	samples []PointSample
}

// Append adds a sample to the end of the log.
func (l *Log) Append(s PointSample) {
	l.samples = append(l.samples, s)
}

// Len returns the number of recorded samples.
func (l *Log) Len() int {
	return len(l.samples)
}

// Samples returns a copy of the recorded samples.
func (l *Log) Samples() []PointSample {
	if len(l.samples) == 0 {
		return nil
	}
	out := make([]PointSample, len(l.samples))
	copy(out, l.samples)
	return out
}

// First returns the earliest sample.
func (l *Log) First() (PointSample, bool) {
	if len(l.samples) == 0 {
		return PointSample{}, false
	}
	return l.samples[0], true
}

// Last returns the most recent sample.
func (l *Log) Last() (PointSample, bool) {
	if len(l.samples) == 0 {
		return PointSample{}, false
	}
	return l.samples[len(l.samples)-1], true
}

// DraggingCount returns how many samples were captured during a drag.
func (l *Log) DraggingCount() int {
	n := 0
	for _, s := range l.samples {
		if s.IsDragging {
			n++
		}
	}
	return n
}

// Reset empties the log.
func (l *Log) Reset() {
	l.samples = nil
}
