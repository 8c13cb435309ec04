package forensics

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// PrintReport writes a formatted attempt analysis to w.
func PrintReport(w io.Writer, m Metrics, v Verdict) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "                    DRAG CHALLENGE ANALYSIS")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Samples:        %d (%d while dragging)\n", m.SampleCount, m.DraggingSamples)
	fmt.Fprintf(w, "Attempts:       %d\n", m.DragAttempts)
	fmt.Fprintf(w, "Total Time:     %.2f sec\n", m.TotalTime)
	fmt.Fprintf(w, "Search Time:    %s\n", formatSeconds(m.SearchTime))
	fmt.Fprintln(w)

	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintln(w, "MOVEMENT METRICS")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Path Deviation:           %.1f px\n", m.PathDeviation)
	fmt.Fprintf(w, "Total Distance:           %.0f px\n", m.TotalDistance)
	fmt.Fprintf(w, "Accuracy:                 %5.1f  %s\n",
		m.Accuracy, FormatMetricBar(m.Accuracy, 0, 100, 20))
	fmt.Fprintf(w, "Human Likelihood:         %5.1f  %s\n",
		m.HumanLikelihood, FormatMetricBar(m.HumanLikelihood, 0, 100, 20))
	fmt.Fprintf(w, "  -> %s\n\n", DescribeMovement(m.HumanLikelihood))

	if v.Suspicious {
		fmt.Fprintln(w, strings.Repeat("-", 72))
		fmt.Fprintln(w, "GATE FLAGS")
		fmt.Fprintln(w, strings.Repeat("-", 72))
		fmt.Fprintln(w)
		for i, r := range v.Reasons {
			fmt.Fprintf(w, "%d. %s: %s\n", i+1, r, describeReason(r))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "ASSESSMENT: %s\n", v.Assessment())
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

// FormatMetricBar produces ASCII progress bar for metric visualization.
func FormatMetricBar(value, min, max float64, width int) string {
	if width <= 0 {
		return ""
	}
	if max <= min || math.IsNaN(value) {
		return "[" + strings.Repeat("-", width) + "]"
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	filled := int(normalized * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func formatSeconds(s float64) string {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return "n/a (milestone missing)"
	}
	return fmt.Sprintf("%.2f sec", s)
}

func describeReason(r Reason) string {
	switch r {
	case ReasonTooFast:
		return "target found faster than a human can search"
	case ReasonInsufficientSamples:
		return "too little pointer movement recorded"
	case ReasonMissingData:
		return "first-move or target-found milestone absent"
	default:
		return "unknown"
	}
}
