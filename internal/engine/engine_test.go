package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"dragcheck/internal/challenge"
	"dragcheck/internal/events"
	"dragcheck/internal/forensics"
	"dragcheck/internal/telemetry"
	"dragcheck/internal/verify"
)

// =============================================================================
// Helpers
// =============================================================================

type recordingObserver struct {
	discards []telemetry.DiscardReason
	drops    []challenge.DropOutcome
	results  []verify.Result
	resets   []bool
}

func (r *recordingObserver) SampleDiscarded(reason telemetry.DiscardReason) {
	r.discards = append(r.discards, reason)
}

func (r *recordingObserver) DropResolved(_ string, out challenge.DropOutcome) {
	r.drops = append(r.drops, out)
}

func (r *recordingObserver) Verified(res verify.Result) {
	r.results = append(r.results, res)
}

func (r *recordingObserver) AttemptReset(_ string, restart bool) {
	r.resets = append(r.resets, restart)
}

func newTestEngine(t *testing.T, obs ...Observer) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Rand = rand.New(rand.NewSource(1))
	opts.Observers = obs
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

// straightGesture yields n collinear samples at constant velocity starting at
// t0: plain moves for the first half, then a drag.
func straightGesture(n int, t0, stepMs int64) []events.Event {
	out := make([]events.Event, 0, n)
	for i := 0; i < n; i++ {
		kind := events.KindPointerMove
		switch {
		case i == n/2:
			kind = events.KindDragStart
		case i == n-1:
			kind = events.KindDragEnd
		case i > n/2:
			kind = events.KindDragMove
		}
		out = append(out, events.Event{
			Kind: kind,
			Time: t0 + int64(i)*stepMs,
			X:    100 + float64(i)*12,
			Y:    80 + float64(i)*6,
		})
	}
	return out
}

func run(t *testing.T, e *Engine, evs []events.Event) Summary {
	t.Helper()
	sum, err := e.Run(context.Background(), events.FromSlice(evs))
	require.NoError(t, err)
	return sum
}

// =============================================================================
// Scenarios
// =============================================================================

func TestScenarioStraightLineAccepted(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, obs)

	evs := straightGesture(10, 1000, 20)
	evs = append(evs,
		events.Event{Kind: events.KindDrop, Time: 4000, Payload: "robot"},
		events.Event{Kind: events.KindVerify, Time: 4200},
	)
	sum := run(t, e, evs)

	require.NotNil(t, sum.Result)
	res := *sum.Result
	assert.Equal(t, verify.OutcomeAccepted, res.Outcome)
	assert.InDelta(t, 3.0, res.Metrics.SearchTime, 1e-9)
	assert.InDelta(t, 0, res.Metrics.PathDeviation, 1e-9)
	assert.InDelta(t, 80, res.Metrics.Accuracy, 1e-9)
	assert.InDelta(t, 92, res.Metrics.HumanLikelihood, 1e-9)
	assert.Equal(t, 10, res.Metrics.SampleCount)
	assert.NotEmpty(t, res.Token)

	assert.Equal(t, "accepted", sum.Phase)
	assert.Equal(t, 12, sum.Events)
	assert.Len(t, obs.results, 1)
}

func TestScenarioTooFast(t *testing.T) {
	e := newTestEngine(t)

	evs := straightGesture(20, 1000, 2)
	evs = append(evs,
		events.Event{Kind: events.KindDrop, Time: 1050, Payload: "robot"},
		events.Event{Kind: events.KindVerify, Time: 1060},
	)
	sum := run(t, e, evs)

	require.NotNil(t, sum.Result)
	assert.Equal(t, verify.OutcomeRejected, sum.Result.Outcome)
	assert.Equal(t, forensics.ReasonTooFast, sum.Result.Verdict.Primary())
	assert.Equal(t, verify.FailureMessage, sum.Result.Message)
	assert.Equal(t, verify.PhaseRejected, e.Phase())
}

func TestScenarioInsufficientSamples(t *testing.T) {
	e := newTestEngine(t)

	evs := []events.Event{
		{Kind: events.KindPointerMove, Time: 1000, X: 10, Y: 10},
		{Kind: events.KindDragStart, Time: 1100, X: 20, Y: 15},
		{Kind: events.KindDragEnd, Time: 1200, X: 30, Y: 20},
		{Kind: events.KindDrop, Time: 5000, Payload: "robot"},
		{Kind: events.KindVerify, Time: 5100},
	}
	sum := run(t, e, evs)

	require.NotNil(t, sum.Result)
	assert.Equal(t, verify.OutcomeRejected, sum.Result.Outcome)
	assert.Equal(t, []forensics.Reason{forensics.ReasonInsufficientSamples}, sum.Result.Verdict.Reasons)
}

func TestScenarioMismatchedDrop(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, obs)

	evs := straightGesture(10, 1000, 20)
	evs = append(evs,
		events.Event{Kind: events.KindDrop, Time: 3000, Payload: "balloon"},
		events.Event{Kind: events.KindVerify, Time: 3100},
	)
	sum := run(t, e, evs)

	assert.Equal(t, challenge.StateIncorrect, e.Controller().State())
	assert.Equal(t, 1, e.Attempt().DragAttempts())
	assert.Equal(t, 1, sum.Mismatches)

	require.Len(t, obs.results, 1)
	assert.Equal(t, verify.OutcomeIgnored, obs.results[0].Outcome)
	assert.False(t, obs.results[0].Scored())
	assert.Equal(t, verify.PhaseIdle, e.Phase())

	// Telemetry survives the mismatch.
	assert.Equal(t, 10, e.Attempt().SampleCount())
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestCooldownRearmsOnLaterEvent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindDrop, Time: 1000, Payload: "star"}))
	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindTick, Time: 1500}))
	assert.Equal(t, challenge.StateIncorrect, e.Controller().State())

	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindTick, Time: 2000}))
	assert.Equal(t, challenge.StatePresented, e.Controller().State())
	assert.Equal(t, 1, e.Attempt().DragAttempts())
}

func TestRetryAfterMismatchThenAccept(t *testing.T) {
	e := newTestEngine(t)

	evs := straightGesture(10, 1000, 20)
	evs = append(evs,
		events.Event{Kind: events.KindDrop, Time: 2000, Payload: "guitar"},
		events.Event{Kind: events.KindTick, Time: 3100},
		events.Event{Kind: events.KindDrop, Time: 3500, Payload: "robot"},
		events.Event{Kind: events.KindVerify, Time: 3600},
	)
	sum := run(t, e, evs)

	require.NotNil(t, sum.Result)
	assert.Equal(t, verify.OutcomeAccepted, sum.Result.Outcome)
	assert.Equal(t, 1, sum.Result.Metrics.DragAttempts)
	assert.InDelta(t, 2.5, sum.Result.Metrics.SearchTime, 1e-9)
}

func TestResetClearsAttempt(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, obs)
	ctx := context.Background()

	_, err := e.Run(ctx, events.FromSlice(append(straightGesture(10, 1000, 20),
		events.Event{Kind: events.KindDrop, Time: 2000, Payload: "star"})))
	require.NoError(t, err)
	old := e.Attempt()

	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindReset, Time: 2500}))

	fresh := e.Attempt()
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Zero(t, fresh.SampleCount())
	assert.Zero(t, fresh.DragAttempts())
	assert.Equal(t, old.PageLoadTime, fresh.PageLoadTime)
	assert.True(t, e.Recorder().Tracking())
	assert.Equal(t, []bool{false}, obs.resets)

	m := forensics.Compute(fresh.Snapshot(), 2600, forensics.DefaultThresholds())
	assert.Zero(t, m.Accuracy)
	assert.Zero(t, m.TotalDistance)
	assert.Zero(t, m.PathDeviation)
	assert.True(t, forensics.Gate(m, forensics.DefaultThresholds()).Has(forensics.ReasonInsufficientSamples))

	// The challenge is presented again, so verify is a no-op.
	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindVerify, Time: 2700}))
	res, ok := e.LastResult()
	require.True(t, ok)
	assert.Equal(t, verify.OutcomeIgnored, res.Outcome)

	// New samples land in the new attempt only.
	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindPointerMove, Time: 2800, X: 5, Y: 5}))
	assert.Equal(t, 1, fresh.SampleCount())
	assert.Equal(t, 10, old.SampleCount())
}

func TestVerifyAfterResetWithoutSamples(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, obs)

	evs := append(straightGesture(10, 1000, 20),
		events.Event{Kind: events.KindReset, Time: 2500},
		events.Event{Kind: events.KindDrop, Time: 2600, Payload: "robot"},
		events.Event{Kind: events.KindVerify, Time: 2700},
	)
	sum := run(t, e, evs)

	require.NotNil(t, sum.Result)
	assert.Equal(t, 1, sum.Resets)
	assert.Zero(t, e.Attempt().SampleCount())
	require.Len(t, obs.drops, 1)
	assert.True(t, obs.drops[0].Matched)

	res := *sum.Result
	assert.Equal(t, verify.OutcomeRejected, res.Outcome)
	assert.Equal(t, forensics.ReasonInsufficientSamples, res.Verdict.Primary())
	assert.Zero(t, res.Metrics.SampleCount)
	assert.Zero(t, res.Metrics.Accuracy)
}

func TestRejectedOnlyHonoursRestart(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, obs)
	ctx := context.Background()

	evs := []events.Event{
		{Kind: events.KindPointerMove, Time: 1000, X: 10, Y: 10},
		{Kind: events.KindDrop, Time: 3000, Payload: "robot"},
		{Kind: events.KindVerify, Time: 3100},
		{Kind: events.KindPointerMove, Time: 3200, X: 12, Y: 12},
		{Kind: events.KindReset, Time: 3300},
		{Kind: events.KindVerify, Time: 3400},
	}
	_, err := e.Run(ctx, events.FromSlice(evs))
	require.NoError(t, err)

	assert.Equal(t, verify.PhaseRejected, e.Phase())
	assert.Equal(t, 1, e.Attempt().SampleCount(), "moves after rejection are not recorded")
	assert.Len(t, obs.results, 1)
	assert.Empty(t, obs.resets)

	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindRestart, Time: 9000}))
	assert.Equal(t, verify.PhaseIdle, e.Phase())
	assert.Equal(t, int64(9000), e.Attempt().PageLoadTime)
	assert.Equal(t, []bool{true}, obs.resets)
}

func TestAcceptedIsTerminalUntilReset(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	evs := append(straightGesture(10, 1000, 20),
		events.Event{Kind: events.KindDrop, Time: 4000, Payload: "robot"},
		events.Event{Kind: events.KindVerify, Time: 4100},
		events.Event{Kind: events.KindPointerMove, Time: 4200, X: 1, Y: 1},
		events.Event{Kind: events.KindVerify, Time: 4300},
	)
	sum, err := e.Run(ctx, events.FromSlice(evs))
	require.NoError(t, err)

	assert.Equal(t, verify.OutcomeAccepted, sum.Result.Outcome)
	assert.Equal(t, 10, sum.Samples)

	require.NoError(t, e.Dispatch(ctx, events.Event{Kind: events.KindReset, Time: 5000}))
	assert.Equal(t, verify.PhaseIdle, e.Phase())
	assert.Equal(t, challenge.StatePresented, e.Controller().State())
}

func TestDiscardsReachObserver(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, obs)

	evs := []events.Event{
		{Kind: events.KindPointerMove, Time: 100, X: 1, Y: 1},
		{Kind: events.KindDragMove, Time: 110, X: 0, Y: 0},
		{Kind: events.KindPointerMove, Time: 90, X: 2, Y: 2},
	}
	sum := run(t, e, evs)

	assert.Equal(t, []telemetry.DiscardReason{telemetry.DiscardOrigin, telemetry.DiscardOutOfOrder}, obs.discards)
	assert.Equal(t, 2, sum.Discarded)
	assert.Equal(t, 1, sum.Samples)
}

func TestVerifySpanRecorded(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	opts := DefaultOptions()
	opts.Rand = rand.New(rand.NewSource(1))
	opts.Tracer = tp.Tracer("test")
	e, err := New(opts)
	require.NoError(t, err)

	evs := append(straightGesture(10, 1000, 20),
		events.Event{Kind: events.KindDrop, Time: 4000, Payload: "robot"},
		events.Event{Kind: events.KindVerify, Time: 4100},
	)
	_, err = e.Run(context.Background(), events.FromSlice(evs))
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "dragcheck.verify", spans[0].Name())

	var outcome string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "verify.outcome" {
			outcome = kv.Value.AsString()
		}
	}
	assert.Equal(t, "accepted", outcome)
}

func TestNewRejectsBadConfig(t *testing.T) {
	opts := DefaultOptions()
	opts.Challenge.Catalog.Target.ID = ""
	_, err := New(opts)
	assert.Error(t, err)
}
