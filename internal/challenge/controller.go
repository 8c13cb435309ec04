package challenge

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"dragcheck/internal/session"
)

// State is the challenge lifecycle state.
type State int

const (
	StatePresented State = iota
	StateCorrect
	StateIncorrect
)

func (s State) String() string {
	switch s {
	case StatePresented:
		return "presented"
	case StateCorrect:
		return "correct"
	case StateIncorrect:
		return "incorrect"
	default:
		return "unknown"
	}
}

// User-facing drop feedback.
const (
	MessageCorrectDrop = "Correct! You can now verify."
	MessageWrongDrop   = "Wrong object! Try again."
)

// DropOutcome describes how a drop was resolved.
type DropOutcome struct {
	Payload  string `json:"payload"`
	Message  string `json:"message,omitempty"`
	State    State  `json:"state"`
	Matched  bool   `json:"matched"`
	Ignored  bool   `json:"ignored,omitempty"`
	Attempts int    `json:"attempts"`
	RearmAt  int64  `json:"rearm_at,omitempty"`
}

// Config controls challenge composition and timing.
type Config struct {
	Catalog    Catalog
	Layout     Layout
	DecoyCount int
	Cooldown   time.Duration // delay before a rejected drop re-arms
}

// DefaultConfig returns the standard five-decoy robot challenge.
func DefaultConfig() Config {
	return Config{
		Catalog:    DefaultCatalog(),
		Layout:     DefaultLayout(),
		DecoyCount: 5,
		Cooldown:   time.Second,
	}
}

// Controller owns the current attempt and the challenge state. It is driven
// from a single event loop and is not safe for concurrent use.
type Controller struct {
	config Config
	rng    *rand.Rand
	placer *Placer
	logger *slog.Logger

	attempt    *session.Attempt
	state      State
	target     Item
	placements []Placement

	rearmPending bool
	rearmAt      int64
}

// NewController validates cfg, opens the first attempt and presents the
// challenge. A nil rng is seeded from the clock; a nil logger uses the
// default.
func NewController(cfg Config, rng *rand.Rand, logger *slog.Logger, pageLoad int64) (*Controller, error) {
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, err
	}
	if cfg.DecoyCount < 0 {
		return nil, fmt.Errorf("challenge: negative decoy count %d", cfg.DecoyCount)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		config: cfg,
		rng:    rng,
		placer: NewPlacer(cfg.Layout, rng),
		logger: logger,
	}
	c.attempt = session.New(pageLoad)
	c.present()
	return c, nil
}

// Arm places the target and decoys in shuffled order and enters Presented.
// If any item could not be placed clear of the protected zone it is left at
// its last candidate and ErrPlacementExhausted is returned; the challenge
// is armed either way.
func (c *Controller) Arm(target Item, decoys []Item) error {
	items := make([]Item, 0, len(decoys)+1)
	items = append(items, target)
	items = append(items, decoys...)
	Shuffle(c.rng, items)

	placements, exhausted := c.placer.Place(items)

	c.target = target
	c.placements = placements
	c.state = StatePresented
	c.rearmPending = false

	if exhausted > 0 {
		return fmt.Errorf("%w: %d of %d items", ErrPlacementExhausted, exhausted, len(items))
	}
	return nil
}

func (c *Controller) present() {
	decoys := c.config.Catalog.PickDecoys(c.rng, c.config.DecoyCount)
	if err := c.Arm(c.config.Catalog.Target, decoys); err != nil {
		c.logger.Warn("placement fell back to unconstrained positions",
			"attempt", c.attempt.ID, "error", err)
	}
}

// ResolveDrop compares the dropped payload with the armed target at host
// time t. A match records the target-found milestone and enables
// verification. A mismatch counts an attempt and schedules a re-arm after
// the cooldown; telemetry is kept. Drops after a match are ignored.
func (c *Controller) ResolveDrop(payload string, t int64) DropOutcome {
	if c.state == StateCorrect {
		return DropOutcome{
			Payload:  payload,
			State:    c.state,
			Ignored:  true,
			Attempts: c.attempt.DragAttempts(),
		}
	}

	if payload == c.target.ID {
		c.state = StateCorrect
		c.rearmPending = false
		c.attempt.MarkTargetFound(t)
		return DropOutcome{
			Payload:  payload,
			Message:  MessageCorrectDrop,
			State:    c.state,
			Matched:  true,
			Attempts: c.attempt.DragAttempts(),
		}
	}

	c.state = StateIncorrect
	n := c.attempt.IncrementAttempts()
	c.rearmAt = t + c.config.Cooldown.Milliseconds()
	c.rearmPending = true
	return DropOutcome{
		Payload:  payload,
		Message:  MessageWrongDrop,
		State:    c.state,
		Attempts: n,
		RearmAt:  c.rearmAt,
	}
}

// Advance moves the controller's clock to t and fires a due re-arm. The
// target and decoy layout are unchanged by a re-arm.
func (c *Controller) Advance(t int64) bool {
	if !c.rearmPending || t < c.rearmAt {
		return false
	}
	c.rearmPending = false
	c.state = StatePresented
	return true
}

// Reset abandons the current attempt and presents a freshly shuffled
// challenge. The new attempt is returned.
func (c *Controller) Reset(pageLoad int64) *session.Attempt {
	c.attempt = session.New(pageLoad)
	c.present()
	return c.attempt
}

// Attempt returns the current attempt.
func (c *Controller) Attempt() *session.Attempt {
	return c.attempt
}

// State returns the current challenge state.
func (c *Controller) State() State {
	return c.state
}

// Target returns the armed target.
func (c *Controller) Target() Item {
	return c.target
}

// Placements returns the current layout.
func (c *Controller) Placements() []Placement {
	return append([]Placement(nil), c.placements...)
}

// Layout returns the arena geometry.
func (c *Controller) Layout() Layout {
	return c.config.Layout
}

// VerifyEnabled reports whether a verification request may be scored.
func (c *Controller) VerifyEnabled() bool {
	return c.state == StateCorrect
}

// RearmPending returns the scheduled re-arm time, if any.
func (c *Controller) RearmPending() (int64, bool) {
	return c.rearmAt, c.rearmPending
}
