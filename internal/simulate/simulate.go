// Package simulate synthesises pointer gestures that solve a challenge.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dragcheck/internal/challenge"
	"dragcheck/internal/events"
)

// ErrUnknownProfile is returned by New for an unrecognised profile name.
var ErrUnknownProfile = errors.New("unknown simulation profile")

// Profile names.
const (
	ProfileHuman    = "human"
	ProfileScripted = "scripted"
)

// Scene is what a simulated user sees: where the pointer starts, where the
// target sits and where it must be dropped.
type Scene struct {
	PageLoad int64
	Start    challenge.Point
	Target   challenge.Point
	Drop     challenge.Point
	Payload  string
}

// SceneFrom reads the armed challenge off a controller. The pointer starts
// at the top-left corner inset by the edge padding.
func SceneFrom(c *challenge.Controller) (Scene, error) {
	target := c.Target()
	layout := c.Layout()

	scene := Scene{
		PageLoad: c.Attempt().PageLoadTime,
		Start: challenge.Point{
			X: layout.Viewport.X + math.Max(1, layout.EdgePadding),
			Y: layout.Viewport.Y + math.Max(1, layout.EdgePadding),
		},
		Drop:    center(layout.DropZone),
		Payload: target.ID,
	}

	for _, p := range c.Placements() {
		if p.Item.ID == target.ID {
			scene.Target = p.Position
			return scene, nil
		}
	}
	return Scene{}, fmt.Errorf("target %q has no placement", target.ID)
}

func center(r challenge.Rect) challenge.Point {
	return challenge.Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Options selects and tunes a profile.
type Options struct {
	Profile  string
	Duration time.Duration // scripted drag duration; human ignores it
	Samples  int           // scripted sample count; human ignores it
	Seed     int64
}

// New returns the source for opts.Profile.
func New(scene Scene, opts Options) (events.Source, error) {
	switch opts.Profile {
	case "", ProfileHuman:
		cfg := DefaultHumanConfig()
		cfg.Seed = opts.Seed
		return NewHuman(scene, cfg), nil
	case ProfileScripted:
		cfg := DefaultScriptedConfig()
		if opts.Duration > 0 {
			cfg.Duration = opts.Duration
		}
		if opts.Samples > 0 {
			cfg.Samples = opts.Samples
		}
		return NewScripted(scene, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, opts.Profile)
	}
}

// stream replays a generated slice, honouring cancellation between events.
func stream(ctx context.Context, evs []events.Event, emit func(events.Event) error) error {
	return events.FromSlice(evs).Stream(ctx, emit)
}

func lerp(a, b challenge.Point, t float64) challenge.Point {
	return challenge.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

func dist(a, b challenge.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// nonOrigin nudges a point off (0,0), which the recorder treats as a
// placeholder during drags.
func nonOrigin(p challenge.Point) challenge.Point {
	if p.X == 0 && p.Y == 0 {
		p.X = 1
	}
	return p
}
