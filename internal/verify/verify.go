// Package verify runs the verification state machine for a challenge attempt.
package verify

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"time"

	"dragcheck/internal/challenge"
	"dragcheck/internal/forensics"
	"dragcheck/internal/session"
)

// User-facing messages. Rejections never carry detail.
const (
	FailureMessage = "Verification failed. Please try again."
	SuccessMessage = "Verification successful."
)

// Phase is the verifier state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRejected
	PhaseAccepted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRejected:
		return "rejected"
	case PhaseAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Outcome is the result of one verification request.
type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"
	OutcomeRejected Outcome = "rejected"
	OutcomeAccepted Outcome = "accepted"
)

// Result is returned for every verification request.
type Result struct {
	Outcome   Outcome           `json:"outcome"`
	AttemptID string            `json:"attempt_id,omitempty"`
	At        int64             `json:"at"`
	Metrics   forensics.Metrics `json:"metrics"`
	Verdict   forensics.Verdict `json:"verdict"`
	Token     string            `json:"token,omitempty"`
	Message   string            `json:"message,omitempty"`
	Analysis  string            `json:"analysis,omitempty"`
}

// Scored reports whether the request reached the scoring engine.
func (r Result) Scored() bool {
	return r.Outcome != OutcomeIgnored
}

// ScoreFunc computes metrics for a snapshot.
type ScoreFunc func(snap session.Snapshot, now int64, th forensics.Thresholds) forensics.Metrics

// Verifier gates verification requests.
//
//	Idle + challenge not correct       -> Idle (ignored, nothing scored)
//	Idle + correct + suspicious        -> Rejected
//	Idle + correct + not suspicious    -> Accepted
//
// Rejected only leaves through Restart. Accepted is terminal for the
// attempt.
type Verifier struct {
	thresholds forensics.Thresholds
	phase      Phase
	rng        *rand.Rand
	logger     *slog.Logger
	score      ScoreFunc
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithScoreFunc replaces the scoring function.
func WithScoreFunc(fn ScoreFunc) Option {
	return func(v *Verifier) { v.score = fn }
}

// WithRand sets the token randomness source.
func WithRand(rng *rand.Rand) Option {
	return func(v *Verifier) { v.rng = rng }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier creates an idle verifier.
func NewVerifier(th forensics.Thresholds, opts ...Option) *Verifier {
	v := &Verifier{
		thresholds: th,
		score:      forensics.Compute,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.rng == nil {
		v.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// Phase returns the current phase.
func (v *Verifier) Phase() Phase {
	return v.phase
}

// SetThresholds swaps the scoring constants. Used on config reload.
func (v *Verifier) SetThresholds(th forensics.Thresholds) {
	v.thresholds = th
}

// Verify handles a verification request at host time now.
func (v *Verifier) Verify(attempt *session.Attempt, state challenge.State, now int64) Result {
	if v.phase != PhaseIdle || attempt == nil || state != challenge.StateCorrect {
		return Result{Outcome: OutcomeIgnored, At: now}
	}

	snap := attempt.Snapshot()
	metrics, verdict := v.evaluate(snap, now)

	res := Result{
		AttemptID: snap.ID,
		At:        now,
		Metrics:   metrics,
		Verdict:   verdict,
	}

	if verdict.Suspicious {
		v.phase = PhaseRejected
		res.Outcome = OutcomeRejected
		res.Message = FailureMessage
		v.logger.Info("verification rejected",
			"attempt", snap.ID,
			"reasons", verdict.Reasons,
			"samples", metrics.SampleCount,
		)
		return res
	}

	v.phase = PhaseAccepted
	res.Outcome = OutcomeAccepted
	res.Message = SuccessMessage
	res.Analysis = forensics.DescribeMovement(metrics.HumanLikelihood)
	res.Token = NewToken(now, v.rng)
	v.logger.Info("verification accepted",
		"attempt", snap.ID,
		"accuracy", metrics.Accuracy,
		"likelihood", metrics.HumanLikelihood,
	)
	return res
}

// evaluate scores a snapshot. A panic in scoring degrades to zeroed
// metrics and a missing-data rejection.
func (v *Verifier) evaluate(snap session.Snapshot, now int64) (m forensics.Metrics, verdict forensics.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("scoring failed", "attempt", snap.ID, "error", fmt.Sprint(r))
			m = forensics.Metrics{SearchTime: math.NaN(), SampleCount: len(snap.Samples)}
			verdict = forensics.Verdict{
				Suspicious: true,
				Reasons:    []forensics.Reason{forensics.ReasonMissingData},
			}
		}
	}()

	m = v.score(snap, now, v.thresholds)
	return m, forensics.Gate(m, v.thresholds)
}

// Restart returns the verifier to Idle. It pairs with a page-level reset of
// the attempt.
func (v *Verifier) Restart() {
	v.phase = PhaseIdle
}

// NewToken builds the time-based validation token "<ms>.<base36 random>".
// It is not a security boundary.
func NewToken(now int64, rng *rand.Rand) string {
	return strconv.FormatInt(now, 10) + "." + strconv.FormatInt(rng.Int63(), 36)
}
