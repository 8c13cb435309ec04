// Package engine wires the challenge controller, telemetry recorder and
// verifier to an event queue.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dragcheck/internal/challenge"
	"dragcheck/internal/events"
	"dragcheck/internal/forensics"
	"dragcheck/internal/session"
	"dragcheck/internal/telemetry"
	"dragcheck/internal/verify"
)

const tracerName = "dragcheck/internal/engine"

// Options configures an Engine.
type Options struct {
	Challenge    challenge.Config
	Thresholds   forensics.Thresholds
	PageLoadTime int64 // host ms at which capture starts
	Rand         *rand.Rand
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Observers    []Observer
}

// DefaultOptions returns options with the production challenge and
// thresholds.
func DefaultOptions() Options {
	return Options{
		Challenge:  challenge.DefaultConfig(),
		Thresholds: forensics.DefaultThresholds(),
	}
}

// Summary describes what an engine has processed.
type Summary struct {
	AttemptID  string         `json:"attempt_id"`
	Events     int            `json:"events"`
	Samples    int            `json:"samples"`
	Discarded  int            `json:"discarded"`
	Drops      int            `json:"drops"`
	Mismatches int            `json:"mismatches"`
	Resets     int            `json:"resets"`
	State      string         `json:"state"`
	Phase      string         `json:"phase"`
	Result     *verify.Result `json:"result,omitempty"`
}

// Engine processes host events one at a time. All mutation happens on the
// goroutine that dispatches the queue.
type Engine struct {
	queue      *events.Queue
	controller *challenge.Controller
	recorder   *telemetry.Recorder
	verifier   *verify.Verifier
	logger     *slog.Logger
	tracer     trace.Tracer
	observer   Observer

	events     int
	discarded  int
	drops      int
	mismatches int
	resets     int
	last       *verify.Result
}

// New builds an engine and presents the first challenge.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	rng := opts.Rand

	controller, err := challenge.NewController(opts.Challenge, rng, logger, opts.PageLoadTime)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	var observer Observer = NopObserver{}
	if len(opts.Observers) > 0 {
		observer = MultiObserver(opts.Observers)
	}

	vopts := []verify.Option{verify.WithLogger(logger)}
	if rng != nil {
		vopts = append(vopts, verify.WithRand(rng))
	}

	e := &Engine{
		queue:      events.NewQueue(),
		controller: controller,
		recorder:   telemetry.NewRecorder(controller.Attempt()),
		verifier:   verify.NewVerifier(opts.Thresholds, vopts...),
		logger:     logger,
		tracer:     tracer,
		observer:   observer,
	}
	e.recorder.OnDiscard(func(reason telemetry.DiscardReason) {
		e.discarded++
		e.observer.SampleDiscarded(reason)
	})
	e.subscribe()
	return e, nil
}

func (e *Engine) subscribe() {
	e.on(events.KindPointerMove, func(_ context.Context, ev events.Event) {
		e.recorder.PointerMove(ev.X, ev.Y, ev.Time)
	})
	e.on(events.KindDragStart, func(_ context.Context, ev events.Event) {
		e.recorder.DragStart(ev.X, ev.Y, ev.Time)
	})
	e.on(events.KindDragMove, func(_ context.Context, ev events.Event) {
		e.recorder.DragMove(ev.X, ev.Y, ev.Time)
	})
	e.on(events.KindDragEnd, func(_ context.Context, ev events.Event) {
		e.recorder.DragEnd(ev.X, ev.Y, ev.Time)
	})
	e.on(events.KindDrop, e.handleDrop)
	e.on(events.KindVerify, e.handleVerify)
	e.on(events.KindReset, func(ctx context.Context, ev events.Event) {
		e.reset(ctx, ev, false)
	})
	e.on(events.KindRestart, func(ctx context.Context, ev events.Event) {
		e.reset(ctx, ev, true)
	})
	e.on(events.KindTick, func(context.Context, events.Event) {})

	e.queue.SubscribeAll(func(context.Context, events.Event) {
		e.events++
	})
}

// on registers fn behind the shared pre-dispatch steps: the controller clock
// advances first, then the verifier phase decides whether the event is
// honoured at all.
func (e *Engine) on(kind events.Kind, fn events.Handler) {
	e.queue.Subscribe(kind, func(ctx context.Context, ev events.Event) {
		if e.controller.Advance(ev.Time) {
			e.logger.Debug("challenge re-armed", "attempt", e.controller.Attempt().ID, "t", ev.Time)
		}
		if !e.honoured(ev.Kind) {
			return
		}
		fn(ctx, ev)
	})
}

func (e *Engine) honoured(kind events.Kind) bool {
	switch e.verifier.Phase() {
	case verify.PhaseRejected:
		return kind == events.KindRestart
	case verify.PhaseAccepted:
		return kind == events.KindReset || kind == events.KindRestart
	default:
		return true
	}
}

func (e *Engine) handleDrop(_ context.Context, ev events.Event) {
	attempt := e.controller.Attempt()
	out := e.controller.ResolveDrop(ev.Payload, ev.Time)
	if !out.Ignored {
		e.drops++
		if !out.Matched {
			e.mismatches++
		}
	}
	e.logger.Debug("drop resolved",
		"attempt", attempt.ID,
		"matched", out.Matched,
		"ignored", out.Ignored,
		"attempts", out.Attempts,
	)
	e.observer.DropResolved(attempt.ID, out)
}

func (e *Engine) handleVerify(ctx context.Context, ev events.Event) {
	attempt := e.controller.Attempt()
	_, span := e.tracer.Start(ctx, "dragcheck.verify",
		trace.WithAttributes(
			attribute.String("attempt.id", attempt.ID),
			attribute.String("challenge.state", e.controller.State().String()),
			attribute.Int("attempt.samples", attempt.SampleCount()),
		))
	defer span.End()

	res := e.verifier.Verify(attempt, e.controller.State(), ev.Time)
	span.SetAttributes(attribute.String("verify.outcome", string(res.Outcome)))
	if res.Verdict.Suspicious {
		reasons := make([]string, len(res.Verdict.Reasons))
		for i, r := range res.Verdict.Reasons {
			reasons[i] = string(r)
		}
		span.SetAttributes(attribute.StringSlice("verify.reasons", reasons))
	}

	e.last = &res
	e.observer.Verified(res)
}

// reset swaps in a fresh attempt. Capture is paused until the recorder
// points at the new attempt so no sample lands in the old one.
func (e *Engine) reset(_ context.Context, ev events.Event, restart bool) {
	e.recorder.SetTracking(false)

	pageLoad := e.controller.Attempt().PageLoadTime
	if restart {
		pageLoad = ev.Time
	}
	attempt := e.controller.Reset(pageLoad)
	e.recorder.Attach(attempt)
	e.verifier.Restart()
	e.resets++

	e.recorder.SetTracking(true)

	e.logger.Info("attempt reset", "attempt", attempt.ID, "restart", restart)
	e.observer.AttemptReset(attempt.ID, restart)
}

// Publish enqueues a host event without dispatching it.
func (e *Engine) Publish(ev events.Event) error {
	return e.queue.Publish(ev)
}

// Dispatch enqueues ev and processes the queue until it is empty.
func (e *Engine) Dispatch(ctx context.Context, ev events.Event) error {
	if err := e.queue.Publish(ev); err != nil {
		return err
	}
	return e.queue.Drain(ctx)
}

// Run feeds every event from src through the engine and returns the
// resulting summary.
func (e *Engine) Run(ctx context.Context, src events.Source) (Summary, error) {
	err := src.Stream(ctx, func(ev events.Event) error {
		return e.Dispatch(ctx, ev)
	})
	if err != nil {
		return e.Summary(), fmt.Errorf("engine: %w", err)
	}
	return e.Summary(), nil
}

// Summary reports the engine's current totals.
func (e *Engine) Summary() Summary {
	attempt := e.controller.Attempt()
	s := Summary{
		AttemptID:  attempt.ID,
		Events:     e.events,
		Samples:    attempt.SampleCount(),
		Discarded:  e.discarded,
		Drops:      e.drops,
		Mismatches: e.mismatches,
		Resets:     e.resets,
		State:      e.controller.State().String(),
		Phase:      e.verifier.Phase().String(),
	}
	if e.last != nil {
		r := *e.last
		s.Result = &r
	}
	return s
}

// Queue exposes the event queue for hosts that run their own dispatcher.
func (e *Engine) Queue() *events.Queue {
	return e.queue
}

// Controller returns the challenge controller.
func (e *Engine) Controller() *challenge.Controller {
	return e.controller
}

// Recorder returns the telemetry recorder.
func (e *Engine) Recorder() *telemetry.Recorder {
	return e.recorder
}

// Attempt returns the current attempt.
func (e *Engine) Attempt() *session.Attempt {
	return e.controller.Attempt()
}

// Phase returns the verifier phase.
func (e *Engine) Phase() verify.Phase {
	return e.verifier.Phase()
}

// LastResult returns the most recent verification result.
func (e *Engine) LastResult() (verify.Result, bool) {
	if e.last == nil {
		return verify.Result{}, false
	}
	return *e.last, true
}

// SetThresholds swaps the scoring constants for subsequent verifications.
func (e *Engine) SetThresholds(th forensics.Thresholds) {
	e.verifier.SetThresholds(th)
}
