// Package events carries host input to the engine on a single logical thread.
package events

import (
	"context"
	"fmt"
)

// Kind identifies a host event.
type Kind string

const (
	KindPointerMove Kind = "pointer_move"
	KindDragStart   Kind = "drag_start"
	KindDragMove    Kind = "drag_move"
	KindDragEnd     Kind = "drag_end"
	KindDrop        Kind = "drop"
	KindVerify      Kind = "verify"
	KindReset       Kind = "reset"
	KindRestart     Kind = "restart"
	KindTick        Kind = "tick"
)

// Kinds lists every known kind.
var Kinds = []Kind{
	KindPointerMove, KindDragStart, KindDragMove, KindDragEnd,
	KindDrop, KindVerify, KindReset, KindRestart, KindTick,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Positional reports whether events of this kind carry a pointer position.
func (k Kind) Positional() bool {
	switch k {
	case KindPointerMove, KindDragStart, KindDragMove, KindDragEnd:
		return true
	}
	return false
}

// Event is one host input. Time is in milliseconds on the host clock.
type Event struct {
	Kind    Kind    `json:"kind"`
	Time    int64   `json:"t"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Payload string  `json:"payload,omitempty"`
}

func (e Event) String() string {
	if e.Kind.Positional() {
		return fmt.Sprintf("%s@%d(%.1f,%.1f)", e.Kind, e.Time, e.X, e.Y)
	}
	if e.Payload != "" {
		return fmt.Sprintf("%s@%d[%s]", e.Kind, e.Time, e.Payload)
	}
	return fmt.Sprintf("%s@%d", e.Kind, e.Time)
}

// Source emits host events in delivery order.
type Source interface {
	Stream(ctx context.Context, emit func(Event) error) error
}

// SourceFunc adapts a function literal to the Source interface.
type SourceFunc func(ctx context.Context, emit func(Event) error) error

// Stream calls the underlying function.
func (f SourceFunc) Stream(ctx context.Context, emit func(Event) error) error {
	return f(ctx, emit)
}

// FromSlice returns a source replaying evs.
func FromSlice(evs []Event) Source {
	return SourceFunc(func(ctx context.Context, emit func(Event) error) error {
		for _, ev := range evs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Collect drains a source into a slice.
func Collect(ctx context.Context, src Source) ([]Event, error) {
	var out []Event
	err := src.Stream(ctx, func(ev Event) error {
		out = append(out, ev)
		return nil
	})
	return out, err
}
