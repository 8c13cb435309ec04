package challenge

import (
	"errors"
	"math/rand"
)

// ErrPlacementExhausted is returned when no position outside the protected
// zone was found within the retry budget.
var ErrPlacementExhausted = errors.New("challenge: placement retries exhausted")

// DefaultMaxPlacementAttempts bounds rejection sampling per item.
const DefaultMaxPlacementAttempts = 200

// Point is a position in viewport space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle in viewport space.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Inflate grows the rectangle by d on every side.
func (r Rect) Inflate(d float64) Rect {
	return Rect{X: r.X - d, Y: r.Y - d, W: r.W + 2*d, H: r.H + 2*d}
}

// ContainsOpen reports whether p lies strictly inside r.
func (r Rect) ContainsOpen(p Point) bool {
	return p.X > r.X && p.X < r.X+r.W && p.Y > r.Y && p.Y < r.Y+r.H
}

// Contains reports whether p lies inside r or on its border.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Layout describes the arena items are scattered over.
type Layout struct {
	Viewport    Rect    `json:"viewport"`
	Container   Rect    `json:"container"` // holds the drop zone
	DropZone    Rect    `json:"drop_zone"`
	EdgePadding float64 `json:"edge_padding"`
	Clearance   float64 `json:"clearance"`
	MaxAttempts int     `json:"max_attempts"`
}

// DefaultLayout is a 1280x800 viewport with a centred 400x300 container.
func DefaultLayout() Layout {
	return Layout{
		Viewport:    Rect{W: 1280, H: 800},
		Container:   Rect{X: 440, Y: 250, W: 400, H: 300},
		DropZone:    Rect{X: 565, Y: 380, W: 150, H: 120},
		EdgePadding: 20,
		Clearance:   50,
		MaxAttempts: DefaultMaxPlacementAttempts,
	}
}

// Resize returns the layout for a w x h viewport. The container and drop
// zone keep their offset from the viewport centre. Non-positive sizes leave
// the layout unchanged.
func (l Layout) Resize(w, h float64) Layout {
	if w <= 0 || h <= 0 {
		return l
	}
	dx := (w - l.Viewport.W) / 2
	dy := (h - l.Viewport.H) / 2
	l.Viewport.W, l.Viewport.H = w, h
	l.Container.X += dx
	l.Container.Y += dy
	l.DropZone.X += dx
	l.DropZone.Y += dy
	return l
}

// Protected returns the zone no item may be placed in.
func (l Layout) Protected() Rect {
	return l.Container.Inflate(l.Clearance)
}

// Placement is an item and where it was put.
type Placement struct {
	Item     Item  `json:"item"`
	Position Point `json:"position"`
}

// Placer scatters items by bounded rejection sampling.
type Placer struct {
	layout Layout
	rng    *rand.Rand
}

// NewPlacer creates a placer. A non-positive MaxAttempts uses the default.
func NewPlacer(layout Layout, rng *rand.Rand) *Placer {
	if layout.MaxAttempts <= 0 {
		layout.MaxAttempts = DefaultMaxPlacementAttempts
	}
	return &Placer{layout: layout, rng: rng}
}

// Sample draws a position clear of the protected zone. On exhaustion it
// returns the last candidate along with ErrPlacementExhausted.
func (p *Placer) Sample() (Point, error) {
	vp := p.layout.Viewport
	pad := p.layout.EdgePadding
	protected := p.layout.Protected()

	spanX := vp.W - 2*pad
	spanY := vp.H - 2*pad
	if spanX < 0 {
		spanX = 0
	}
	if spanY < 0 {
		spanY = 0
	}

	var candidate Point
	for i := 0; i < p.layout.MaxAttempts; i++ {
		candidate = Point{
			X: vp.X + pad + p.rng.Float64()*spanX,
			Y: vp.Y + pad + p.rng.Float64()*spanY,
		}
		if !protected.ContainsOpen(candidate) {
			return candidate, nil
		}
	}
	return candidate, ErrPlacementExhausted
}

// Place positions every item. Items that exhausted their budget keep the
// last candidate; the returned count says how many did.
func (p *Placer) Place(items []Item) ([]Placement, int) {
	out := make([]Placement, 0, len(items))
	exhausted := 0
	for _, it := range items {
		pos, err := p.Sample()
		if err != nil {
			exhausted++
		}
		out = append(out, Placement{Item: it, Position: pos})
	}
	return out, exhausted
}
