package simulate

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/aquilax/go-perlin"

	"dragcheck/internal/challenge"
	"dragcheck/internal/events"
)

// HumanConfig tunes the human-like profile.
type HumanConfig struct {
	// Fitts's law movement time, MT = A + B*log2(1 + D/W), in milliseconds.
	FittsA      float64
	FittsB      float64
	TargetWidth float64

	Reaction        time.Duration // page load to first motion
	MinSearch       time.Duration // first motion to drop, lower bound
	SampleInterval  time.Duration
	PerlinAmplitude float64 // pixels
	PerlinFrequency float64 // cycles per second
	VerifyDelay     time.Duration
	Seed            int64
}

// DefaultHumanConfig returns a moderately careful user on a 60 Hz pointer.
func DefaultHumanConfig() HumanConfig {
	return HumanConfig{
		FittsA:          150,
		FittsB:          180,
		TargetWidth:     40,
		Reaction:        400 * time.Millisecond,
		MinSearch:       500 * time.Millisecond,
		SampleInterval:  16 * time.Millisecond,
		PerlinAmplitude: 2.5,
		PerlinFrequency: 0.8,
		VerifyDelay:     350 * time.Millisecond,
	}
}

// Human moves to the target along a curved, eased path, then drags it to
// the drop zone the same way. Positions carry low-frequency Perlin drift.
type Human struct {
	scene  Scene
	cfg    HumanConfig
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// NewHuman builds a human profile. The same seed yields the same stream.
func NewHuman(scene Scene, cfg HumanConfig) *Human {
	const alpha, beta, n = 2.0, 2.0, int32(3)
	return &Human{
		scene:  scene,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		noiseX: perlin.NewPerlin(alpha, beta, n, cfg.Seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, cfg.Seed+1),
	}
}

// Stream implements events.Source.
func (h *Human) Stream(ctx context.Context, emit func(events.Event) error) error {
	return stream(ctx, h.Events(), emit)
}

// Events generates the full gesture: approach, drag, drop, verify.
func (h *Human) Events() []events.Event {
	h.rng.Seed(h.cfg.Seed)
	s := h.scene

	approach := h.fitts(dist(s.Start, s.Target))
	drag := h.fitts(dist(s.Target, s.Drop))
	if approach+drag < h.cfg.MinSearch {
		approach = h.cfg.MinSearch - drag
	}

	t0 := s.PageLoad + h.cfg.Reaction.Milliseconds()
	step := max(1, h.cfg.SampleInterval.Milliseconds())

	var out []events.Event
	elapsed := 0.0

	// Approach: plain motion ending on the target.
	pts, times := h.path(s.Start, s.Target, t0, approach, step)
	for i, p := range pts {
		elapsed = float64(times[i]-t0) / 1000
		p = h.drift(p, elapsed)
		out = append(out, events.Event{Kind: events.KindPointerMove, Time: times[i], X: p.X, Y: p.Y})
	}

	// Short dwell before pressing.
	tDown := times[len(times)-1] + step + int64(h.rng.Intn(60))
	grab := nonOrigin(s.Target)
	out = append(out, events.Event{Kind: events.KindDragStart, Time: tDown, X: grab.X, Y: grab.Y})

	pts, times = h.path(s.Target, s.Drop, tDown, drag, step)
	last := len(pts) - 1
	for i := 1; i < last; i++ {
		elapsed = float64(times[i]-t0) / 1000
		p := nonOrigin(h.drift(pts[i], elapsed))
		out = append(out, events.Event{Kind: events.KindDragMove, Time: times[i], X: p.X, Y: p.Y})
	}

	release := nonOrigin(s.Drop)
	tUp := times[last]
	out = append(out,
		events.Event{Kind: events.KindDragEnd, Time: tUp, X: release.X, Y: release.Y},
		events.Event{Kind: events.KindDrop, Time: tUp, Payload: s.Payload},
		events.Event{Kind: events.KindVerify, Time: tUp + h.cfg.VerifyDelay.Milliseconds()},
	)
	return out
}

// fitts returns a movement time with +/-15% variation.
func (h *Human) fitts(d float64) time.Duration {
	w := h.cfg.TargetWidth
	if w <= 0 {
		w = 1
	}
	mt := h.cfg.FittsA + h.cfg.FittsB*math.Log2(1+d/w)
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	return time.Duration(mt * float64(time.Millisecond))
}

// path samples an eased cubic Bezier from a to b starting at t0. Control
// points bow the curve to one side by up to a fifth of the distance. The
// first point is a and the last is b; timestamps strictly increase.
func (h *Human) path(a, b challenge.Point, t0 int64, d time.Duration, step int64) ([]challenge.Point, []int64) {
	total := max(step, d.Milliseconds())
	n := int(total/step) + 1
	if n < 2 {
		n = 2
	}

	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	var nx, ny float64
	if length > 0 {
		nx, ny = -dy/length, dx/length
	}
	bow := (h.rng.Float64()*0.4 - 0.2) * length
	p1 := lerp(a, b, 1.0/3)
	p1.X += nx * bow
	p1.Y += ny * bow
	p2 := lerp(a, b, 2.0/3)
	p2.X += nx * bow * 0.6
	p2.Y += ny * bow * 0.6

	pts := make([]challenge.Point, n)
	times := make([]int64, n)
	for i := 0; i < n; i++ {
		u := float64(i) / float64(n-1)
		pts[i] = bezier(a, p1, p2, b, easeInOutCubic(u))
		times[i] = t0 + int64(u*float64(total))
		if i > 0 && times[i] <= times[i-1] {
			times[i] = times[i-1] + 1
		}
	}
	pts[n-1] = b
	return pts, times
}

func (h *Human) drift(p challenge.Point, elapsed float64) challenge.Point {
	amp := h.cfg.PerlinAmplitude
	f := h.cfg.PerlinFrequency
	return challenge.Point{
		X: p.X + h.noiseX.Noise1D(elapsed*f)*amp,
		Y: p.Y + h.noiseY.Noise1D(elapsed*f)*amp,
	}
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func bezier(p0, p1, p2, p3 challenge.Point, t float64) challenge.Point {
	omt := 1 - t
	a := omt * omt * omt
	b := 3 * omt * omt * t
	c := 3 * omt * t * t
	d := t * t * t
	return challenge.Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}
