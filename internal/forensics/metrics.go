package forensics

import (
	"math"

	"dragcheck/internal/session"
	"dragcheck/internal/telemetry"
)

// MinSamplesForVerdict is the minimum log length for a non-suspicious verdict.
const MinSamplesForVerdict = 5

// Compute derives all metrics from a snapshot. It is a pure function of its
// inputs and never fails; degenerate inputs degrade to zero.
func Compute(snap session.Snapshot, now int64, th Thresholds) Metrics {
	samples := snap.Samples
	searchTime := snap.SearchTime()
	accuracy := Accuracy(samples, th)

	dragging := 0
	for _, s := range samples {
		if s.IsDragging {
			dragging++
		}
	}

	return Metrics{
		SearchTime:      searchTime,
		TotalTime:       snap.TotalTime(now),
		PathDeviation:   PathDeviation(samples),
		TotalDistance:   TotalDistance(samples),
		Accuracy:        accuracy,
		HumanLikelihood: HumanLikelihood(searchTime, accuracy, th),
		DragAttempts:    snap.DragAttempts,
		SampleCount:     len(samples),
		DraggingSamples: dragging,
	}
}

// PointToLine returns the perpendicular distance from p to the line through
// a and b. A zero-length line yields 0.
// Formula: |(by-ay)px - (bx-ax)py + bx*ay - by*ax| / sqrt((by-ay)^2 + (bx-ax)^2)
func PointToLine(a, b, p telemetry.PointSample) float64 {
	dy := b.Y - a.Y
	dx := b.X - a.X
	den := math.Sqrt(dy*dy + dx*dx)
	if den == 0 || math.IsNaN(den) {
		return 0
	}
	return math.Abs(dy*p.X-dx*p.Y+b.X*a.Y-b.Y*a.X) / den
}

// PathDeviation is the mean distance of every sample from the chord joining
// the first and last sample.
// Formula: (1/n) * sum PointToLine(s_0, s_n-1, s_i)
func PathDeviation(samples []telemetry.PointSample) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}

	start, end := samples[0], samples[n-1]
	var total float64
	for _, s := range samples {
		total += PointToLine(start, end, s)
	}
	return finiteOrZero(total / float64(n))
}

// TotalDistance is the summed Euclidean length of the path.
func TotalDistance(samples []telemetry.PointSample) float64 {
	if len(samples) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(samples); i++ {
		total += math.Hypot(samples[i].X-samples[i-1].X, samples[i].Y-samples[i-1].Y)
	}
	return finiteOrZero(total)
}

// Accuracy scores path smoothness in [0, AccuracyBaseline].
//
// For each step the velocity is distance / max(1, dt); a change larger than
// VelocityChangeLimit against the previous step counts once. Every interior
// sample adds its distance from the line through its two neighbours to a
// straightness sum. Both totals are normalised by the sample count:
//
//	straightness = min(100, sum/n * StraightnessWeight)
//	velocity     = min(100, changes/n * VelocityWeight)
//	accuracy     = max(0, AccuracyBaseline - (straightness+velocity)/2)
//
// Fewer than two samples, a panic, or a NaN result yield 0.
func Accuracy(samples []telemetry.PointSample, th Thresholds) (score float64) {
	n := len(samples)
	if n < 2 {
		return 0
	}

	defer func() {
		if recover() != nil {
			score = 0
		}
	}()

	var straightness float64
	changes := 0
	var lastV float64
	hasLastV := false

	for i := 1; i < n; i++ {
		dt := math.Max(1, float64(samples[i].Timestamp-samples[i-1].Timestamp))
		d := math.Hypot(samples[i].X-samples[i-1].X, samples[i].Y-samples[i-1].Y)
		v := d / dt

		if hasLastV && math.Abs(v-lastV) > th.VelocityChangeLimit {
			changes++
		}
		lastV = v
		hasLastV = true

		if i > 1 {
			straightness += PointToLine(samples[i-2], samples[i], samples[i-1])
		}
	}

	straightnessScore := math.Min(100, straightness/float64(n)*th.StraightnessWeight)
	velocityScore := math.Min(100, float64(changes)/float64(n)*th.VelocityWeight)

	return finiteOrZero(math.Max(0, th.AccuracyBaseline-(straightnessScore+velocityScore)/2))
}

// TimeScore maps search time to [0,100]. Searches faster than MinSearchTime
// score 0, anything under FastSearchLimit scores 100, and slower searches
// lose SlowSearchPenalty points per second.
func TimeScore(searchTime float64, th Thresholds) float64 {
	switch {
	case math.IsNaN(searchTime) || math.IsInf(searchTime, 0):
		return 0
	case searchTime < th.MinSearchTime:
		return 0
	case searchTime < th.FastSearchLimit:
		return 100
	default:
		return math.Max(0, 100-(searchTime-th.FastSearchLimit)*th.SlowSearchPenalty)
	}
}

// HumanLikelihood blends timing and accuracy into a [0,100] score.
// Formula: TimeScore*TimeWeight + accuracy*AccuracyWeight
func HumanLikelihood(searchTime, accuracy float64, th Thresholds) float64 {
	score := TimeScore(searchTime, th)*th.TimeWeight + finiteOrZero(accuracy)*th.AccuracyWeight
	return clamp(score, 0, 100)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
