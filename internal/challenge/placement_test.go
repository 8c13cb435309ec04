package challenge

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlacerRespectsPaddingAndClearance(t *testing.T) {
	layout := DefaultLayout()
	p := NewPlacer(layout, rand.New(rand.NewSource(11)))
	protected := layout.Protected()

	for i := 0; i < 500; i++ {
		pt, err := p.Sample()
		require.NoError(t, err)

		assert.GreaterOrEqual(t, pt.X, layout.EdgePadding)
		assert.LessOrEqual(t, pt.X, layout.Viewport.W-layout.EdgePadding)
		assert.GreaterOrEqual(t, pt.Y, layout.EdgePadding)
		assert.LessOrEqual(t, pt.Y, layout.Viewport.H-layout.EdgePadding)
		assert.False(t, protected.ContainsOpen(pt))
	}
}

func TestPlacerTerminatesOnImpossibleLayout(t *testing.T) {
	layout := DefaultLayout()
	layout.Viewport = Rect{W: 100, H: 100}
	layout.Container = Rect{X: 10, Y: 10, W: 80, H: 80}
	layout.MaxAttempts = 25

	p := NewPlacer(layout, rand.New(rand.NewSource(5)))
	_, err := p.Sample()
	assert.ErrorIs(t, err, ErrPlacementExhausted)

	items := DefaultCatalog().Decoys[:4]
	placed, exhausted := p.Place(items)
	assert.Len(t, placed, 4)
	assert.Equal(t, 4, exhausted)
}

func TestLayoutResizeKeepsContainerCentred(t *testing.T) {
	layout := DefaultLayout().Resize(800, 600)

	assert.Equal(t, Rect{W: 800, H: 600}, layout.Viewport)
	assert.Equal(t, Rect{X: 200, Y: 150, W: 400, H: 300}, layout.Container)
	assert.Equal(t, Rect{X: 325, Y: 280, W: 150, H: 120}, layout.DropZone)

	assert.Equal(t, DefaultLayout(), DefaultLayout().Resize(0, 600))
	assert.Equal(t, DefaultLayout(), DefaultLayout().Resize(1280, 800))
}

func TestPlacerDefaultsAttempts(t *testing.T) {
	layout := DefaultLayout()
	layout.MaxAttempts = 0
	p := NewPlacer(layout, rand.New(rand.NewSource(1)))
	assert.Equal(t, DefaultMaxPlacementAttempts, p.layout.MaxAttempts)
}

func TestRectGeometry(t *testing.T) {
	r := Rect{X: 10, Y: 10, W: 20, H: 20}

	assert.True(t, r.ContainsOpen(Point{X: 15, Y: 15}))
	assert.False(t, r.ContainsOpen(Point{X: 10, Y: 15}), "border is outside the open rect")
	assert.True(t, r.Contains(Point{X: 10, Y: 15}))

	big := r.Inflate(5)
	assert.Equal(t, Rect{X: 5, Y: 5, W: 30, H: 30}, big)
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())
	assert.Len(t, c.Decoys, 14)

	rng := rand.New(rand.NewSource(2))
	picked := c.PickDecoys(rng, 5)
	require.Len(t, picked, 5)

	seen := map[string]bool{}
	for _, it := range picked {
		assert.NotEqual(t, c.Target.ID, it.ID)
		assert.False(t, seen[it.ID], "duplicate decoy %s", it.ID)
		seen[it.ID] = true
	}

	assert.Len(t, c.PickDecoys(rng, 99), 14)
	assert.Empty(t, c.PickDecoys(rng, -1))
}

func TestCatalogValidate(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		wantErr bool
	}{
		{"default", DefaultCatalog(), false},
		{"no target id", Catalog{Decoys: []Item{{ID: "a"}}}, true},
		{"empty decoy id", Catalog{Target: Item{ID: "t"}, Decoys: []Item{{}}}, true},
		{"duplicate", Catalog{Target: Item{ID: "t"}, Decoys: []Item{{ID: "a"}, {ID: "a"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	items := DefaultCatalog().Decoys
	shuffled := append([]Item(nil), items...)
	Shuffle(rand.New(rand.NewSource(8)), shuffled)

	assert.ElementsMatch(t, items, shuffled)
}
