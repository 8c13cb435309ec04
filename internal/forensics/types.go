// Package forensics derives movement features from a telemetry log and
// decides whether an attempt looks automated.
package forensics

import (
	"encoding/json"
	"math"
)

// Thresholds are the tunable constants of the scoring model.
type Thresholds struct {
	MinSearchTime       float64 // seconds; faster is too-fast
	MinSamples          int     // fewer is insufficient-samples
	VelocityChangeLimit float64 // px/ms between consecutive velocities
	AccuracyBaseline    float64
	StraightnessWeight  float64
	VelocityWeight      float64
	FastSearchLimit     float64 // seconds; below this time score is full
	SlowSearchPenalty   float64 // points lost per second past FastSearchLimit
	TimeWeight          float64
	AccuracyWeight      float64
}

// DefaultThresholds returns the production scoring constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSearchTime:       0.2,
		MinSamples:          MinSamplesForVerdict,
		VelocityChangeLimit: 2,
		AccuracyBaseline:    80,
		StraightnessWeight:  5,
		VelocityWeight:      50,
		FastSearchLimit:     5,
		SlowSearchPenalty:   10,
		TimeWeight:          0.6,
		AccuracyWeight:      0.4,
	}
}

// Metrics is the derived feature set of one attempt. It is recomputed on
// demand and never mutated.
type Metrics struct {
	SearchTime      float64 // NaN when a milestone is missing
	TotalTime       float64
	PathDeviation   float64
	TotalDistance   float64
	Accuracy        float64
	HumanLikelihood float64
	DragAttempts    int
	SampleCount     int
	DraggingSamples int
}

// MarshalJSON encodes a missing search time as null.
func (m Metrics) MarshalJSON() ([]byte, error) {
	var search *float64
	if !math.IsNaN(m.SearchTime) && !math.IsInf(m.SearchTime, 0) {
		st := m.SearchTime
		search = &st
	}
	return json.Marshal(struct {
		SearchTime      *float64 `json:"search_time"`
		TotalTime       float64  `json:"total_time"`
		PathDeviation   float64  `json:"path_deviation"`
		TotalDistance   float64  `json:"total_distance"`
		Accuracy        float64  `json:"accuracy"`
		HumanLikelihood float64  `json:"human_likelihood"`
		DragAttempts    int      `json:"drag_attempts"`
		SampleCount     int      `json:"sample_count"`
		DraggingSamples int      `json:"dragging_samples"`
	}{
		SearchTime:      search,
		TotalTime:       m.TotalTime,
		PathDeviation:   m.PathDeviation,
		TotalDistance:   m.TotalDistance,
		Accuracy:        m.Accuracy,
		HumanLikelihood: m.HumanLikelihood,
		DragAttempts:    m.DragAttempts,
		SampleCount:     m.SampleCount,
		DraggingSamples: m.DraggingSamples,
	})
}

// Reason tags why an attempt was flagged.
type Reason string

const (
	ReasonTooFast             Reason = "too-fast"
	ReasonInsufficientSamples Reason = "insufficient-samples"
	ReasonMissingData         Reason = "missing-data"
)

// Verdict is the outcome of the threshold gate.
type Verdict struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []Reason `json:"reasons,omitempty"`
}

// Primary returns the first reason, or "" for a clean verdict.
func (v Verdict) Primary() Reason {
	if len(v.Reasons) == 0 {
		return ""
	}
	return v.Reasons[0]
}

// Has reports whether r is among the verdict's reasons.
func (v Verdict) Has(r Reason) bool {
	for _, got := range v.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// Assessment returns the report headline for the verdict.
func (v Verdict) Assessment() Assessment {
	if v.Suspicious {
		return AssessmentSuspicious
	}
	return AssessmentHuman
}

// Assessment is the overall verdict line for a report.
type Assessment string

const (
	AssessmentHuman      Assessment = "CONSISTENT WITH HUMAN INTERACTION"
	AssessmentSuspicious Assessment = "SUSPICIOUS INTERACTION PATTERN"
)

// Box is an axis-aligned rectangle in viewport space.
type Box struct {
	X, Y, W, H float64
}
