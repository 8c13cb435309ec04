package simulate

import (
	"context"
	"time"

	"dragcheck/internal/events"
)

// ScriptedConfig tunes the scripted profile.
type ScriptedConfig struct {
	Delay       time.Duration // page load to drag start
	Duration    time.Duration // drag start to drop
	Samples     int           // drag samples including start and end; at least 2
	VerifyDelay time.Duration
}

// DefaultScriptedConfig is an automation tool that teleports onto the target
// and drags it straight over in a tenth of a second.
func DefaultScriptedConfig() ScriptedConfig {
	return ScriptedConfig{
		Delay:       50 * time.Millisecond,
		Duration:    100 * time.Millisecond,
		Samples:     10,
		VerifyDelay: 10 * time.Millisecond,
	}
}

// Scripted drags the target along a straight line at constant velocity with
// no approach motion.
type Scripted struct {
	scene Scene
	cfg   ScriptedConfig
}

// NewScripted builds a scripted profile.
func NewScripted(scene Scene, cfg ScriptedConfig) *Scripted {
	if cfg.Samples < 2 {
		cfg.Samples = 2
	}
	return &Scripted{scene: scene, cfg: cfg}
}

// Stream implements events.Source.
func (s *Scripted) Stream(ctx context.Context, emit func(events.Event) error) error {
	return stream(ctx, s.Events(), emit)
}

// Events generates drag_start, evenly spaced drag_moves, drag_end, drop and
// verify.
func (s *Scripted) Events() []events.Event {
	sc := s.scene
	n := s.cfg.Samples
	t0 := sc.PageLoad + s.cfg.Delay.Milliseconds()
	total := s.cfg.Duration.Milliseconds()

	out := make([]events.Event, 0, n+2)
	for i := 0; i < n; i++ {
		kind := events.KindDragMove
		switch i {
		case 0:
			kind = events.KindDragStart
		case n - 1:
			kind = events.KindDragEnd
		}
		p := nonOrigin(lerp(sc.Target, sc.Drop, float64(i)/float64(n-1)))
		out = append(out, events.Event{
			Kind: kind,
			Time: t0 + int64(i)*total/int64(n-1),
			X:    p.X,
			Y:    p.Y,
		})
	}

	tUp := t0 + total
	out = append(out,
		events.Event{Kind: events.KindDrop, Time: tUp, Payload: sc.Payload},
		events.Event{Kind: events.KindVerify, Time: tUp + s.cfg.VerifyDelay.Milliseconds()},
	)
	return out
}
