package forensics

import (
	"fmt"
	"io"
	"math"
	"strings"

	"dragcheck/internal/telemetry"
)

const plotPadding = 1

// Plot cell markers.
const (
	markDrag      = '#'
	markMove      = '.'
	markStart     = 'S'
	markEnd       = 'E'
	markBoxCorner = '+'
	markBoxHoriz  = '-'
	markBoxVert   = '|'
)

// PlotPath renders the pointer path as a width x height character grid.
// The path is fitted to its bounding box with the same scale on both axes.
// Segments ending in a dragging sample are drawn with '#', free movement
// with '.'. When container is non-nil its outline is drawn in the same
// coordinate frame.
func PlotPath(w io.Writer, samples []telemetry.PointSample, container *Box, width, height int) error {
	if width < 2*plotPadding+2 || height < 2*plotPadding+2 {
		return fmt.Errorf("plot: grid %dx%d too small", width, height)
	}
	if len(samples) == 0 {
		_, err := fmt.Fprintln(w, "(no samples)")
		return err
	}

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	minX, maxX := samples[0].X, samples[0].X
	minY, maxY := samples[0].Y, samples[0].Y
	for _, s := range samples[1:] {
		minX = math.Min(minX, s.X)
		maxX = math.Max(maxX, s.X)
		minY = math.Min(minY, s.Y)
		maxY = math.Max(maxY, s.Y)
	}

	spanX, spanY := maxX-minX, maxY-minY
	if spanX == 0 {
		spanX = 1
	}
	if spanY == 0 {
		spanY = 1
	}
	scale := math.Min(
		float64(width-1-2*plotPadding)/spanX,
		float64(height-1-2*plotPadding)/spanY,
	)

	project := func(x, y float64) (int, int) {
		return int(math.Round((x-minX)*scale)) + plotPadding,
			int(math.Round((y-minY)*scale)) + plotPadding
	}
	set := func(c, r int, ch rune) {
		if r >= 0 && r < height && c >= 0 && c < width {
			grid[r][c] = ch
		}
	}

	if container != nil {
		drawBox(grid, project, *container)
	}

	pc, pr := project(samples[0].X, samples[0].Y)
	for _, s := range samples[1:] {
		c, r := project(s.X, s.Y)
		mark := rune(markMove)
		if s.IsDragging {
			mark = markDrag
		}
		line(pc, pr, c, r, func(x, y int) { set(x, y, mark) })
		pc, pr = c, r
	}

	sc, sr := project(samples[0].X, samples[0].Y)
	set(sc, sr, markStart)
	last := samples[len(samples)-1]
	ec, er := project(last.X, last.Y)
	set(ec, er, markEnd)

	for _, row := range grid {
		if _, err := fmt.Fprintln(w, strings.TrimRight(string(row), " ")); err != nil {
			return err
		}
	}
	return nil
}

// drawBox outlines b on grid. Only the visible part of each edge is
// walked; a box far larger than the path can project to billions of cells.
func drawBox(grid [][]rune, project func(x, y float64) (int, int), b Box) {
	height, width := len(grid), len(grid[0])
	c0, r0 := project(b.X, b.Y)
	c1, r1 := project(b.X+b.W, b.Y+b.H)
	if c0 > c1 {
		c0, c1 = c1, c0
	}
	if r0 > r1 {
		r0, r1 = r1, r0
	}
	if c1 < 0 || r1 < 0 || c0 >= width || r0 >= height {
		return
	}

	set := func(c, r int, ch rune) {
		if r >= 0 && r < height && c >= 0 && c < width {
			grid[r][c] = ch
		}
	}
	for c := max(c0, 0); c <= min(c1, width-1); c++ {
		set(c, r0, markBoxHoriz)
		set(c, r1, markBoxHoriz)
	}
	for r := max(r0, 0); r <= min(r1, height-1); r++ {
		set(c0, r, markBoxVert)
		set(c1, r, markBoxVert)
	}
	set(c0, r0, markBoxCorner)
	set(c1, r0, markBoxCorner)
	set(c0, r1, markBoxCorner)
	set(c1, r1, markBoxCorner)
}

// line walks the cells between two grid points (Bresenham).
func line(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
