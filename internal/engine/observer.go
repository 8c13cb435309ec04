package engine

import (
	"dragcheck/internal/challenge"
	"dragcheck/internal/telemetry"
	"dragcheck/internal/verify"
)

// Observer receives engine outcomes. Implementations must not block; they
// run on the dispatch goroutine.
type Observer interface {
	SampleDiscarded(reason telemetry.DiscardReason)
	DropResolved(attemptID string, out challenge.DropOutcome)
	Verified(res verify.Result)
	AttemptReset(attemptID string, restart bool)
}

// MultiObserver fans out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) SampleDiscarded(reason telemetry.DiscardReason) {
	for _, o := range m {
		o.SampleDiscarded(reason)
	}
}

func (m MultiObserver) DropResolved(attemptID string, out challenge.DropOutcome) {
	for _, o := range m {
		o.DropResolved(attemptID, out)
	}
}

func (m MultiObserver) Verified(res verify.Result) {
	for _, o := range m {
		o.Verified(res)
	}
}

func (m MultiObserver) AttemptReset(attemptID string, restart bool) {
	for _, o := range m {
		o.AttemptReset(attemptID, restart)
	}
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) SampleDiscarded(telemetry.DiscardReason) {}
func (NopObserver) DropResolved(string, challenge.DropOutcome) {}
func (NopObserver) Verified(verify.Result) {}
func (NopObserver) AttemptReset(string, bool) {}
