package forensics

import "math"

// Gate applies the threshold policy. An attempt is suspicious when the
// search was faster than MinSearchTime or the log holds fewer than
// MinSamples samples. A missing milestone is always suspicious.
//
// HumanLikelihood does not take part in the decision.
func Gate(m Metrics, th Thresholds) Verdict {
	var reasons []Reason

	missing := math.IsNaN(m.SearchTime) || math.IsInf(m.SearchTime, 0)
	if !missing && m.SearchTime < th.MinSearchTime {
		reasons = append(reasons, ReasonTooFast)
	}
	if m.SampleCount < th.MinSamples {
		reasons = append(reasons, ReasonInsufficientSamples)
	}
	if missing {
		reasons = append(reasons, ReasonMissingData)
	}

	return Verdict{
		Suspicious: len(reasons) > 0,
		Reasons:    reasons,
	}
}

// DescribeMovement turns a likelihood score into user-facing feedback.
func DescribeMovement(score float64) string {
	switch {
	case score > 80:
		return "Movement patterns are very natural and human-like"
	case score > 60:
		return "Movement shows good natural variation"
	case score > 40:
		return "Movement patterns are acceptable"
	case score > 20:
		return "Movement could be more natural"
	default:
		return "Please try moving more naturally"
	}
}
