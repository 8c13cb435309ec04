// Package challenge arms the drag puzzle and resolves drops.
package challenge

import (
	"fmt"
	"math/rand"
)

// Item is a draggable piece. ID is the payload identity carried by drops.
type Item struct {
	ID    string `json:"id"`
	Glyph string `json:"glyph"`
}

// Catalog is the pool a challenge draws from.
type Catalog struct {
	Target Item   `json:"target"`
	Decoys []Item `json:"decoys"`
}

// DefaultCatalog returns the robot target with the standard decoy set.
func DefaultCatalog() Catalog {
	return Catalog{
		Target: Item{ID: "robot", Glyph: "🤖"},
		Decoys: []Item{
			{ID: "star", Glyph: "🌟"},
			{ID: "balloon", Glyph: "🎈"},
			{ID: "gamepad", Glyph: "🎮"},
			{ID: "circus", Glyph: "🎪"},
			{ID: "palette", Glyph: "🎨"},
			{ID: "masks", Glyph: "🎭"},
			{ID: "bullseye", Glyph: "🎯"},
			{ID: "note", Glyph: "🎵"},
			{ID: "clapper", Glyph: "🎬"},
			{ID: "phone", Glyph: "📱"},
			{ID: "keys", Glyph: "🎹"},
			{ID: "guitar", Glyph: "🎸"},
			{ID: "rainbow", Glyph: "🌈"},
			{ID: "plain-star", Glyph: "⭐"},
		},
	}
}

// Validate checks that the target is distinct from every decoy and that
// identities are unique.
func (c Catalog) Validate() error {
	if c.Target.ID == "" {
		return fmt.Errorf("catalog: target has no id")
	}
	seen := map[string]bool{c.Target.ID: true}
	for _, d := range c.Decoys {
		if d.ID == "" {
			return fmt.Errorf("catalog: decoy with empty id")
		}
		if seen[d.ID] {
			return fmt.Errorf("catalog: duplicate id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// PickDecoys returns n distinct decoys chosen at random.
func (c Catalog) PickDecoys(rng *rand.Rand, n int) []Item {
	if n > len(c.Decoys) {
		n = len(c.Decoys)
	}
	if n < 0 {
		n = 0
	}
	pool := append([]Item(nil), c.Decoys...)
	Shuffle(rng, pool)
	return pool[:n]
}

// Shuffle permutes items in place (Fisher-Yates).
func Shuffle(rng *rand.Rand, items []Item) {
	for i := len(items) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}
