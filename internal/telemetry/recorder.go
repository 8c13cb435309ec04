package telemetry

// DiscardReason names why a host event did not become a sample.
type DiscardReason string

const (
	DiscardOrigin     DiscardReason = "origin"
	DiscardNonFinite  DiscardReason = "non-finite"
	DiscardOutOfOrder DiscardReason = "out-of-order"
	DiscardPaused     DiscardReason = "paused"
	DiscardDetached   DiscardReason = "detached"
)

// Sink receives accepted samples. The attempt session implements it.
type Sink interface {
	Append(PointSample)
}

// Recorder turns host pointer and drag events into samples.
//
// Every qualifying event yields at most one sample; there is no batching or
// decimation. Drag-phase events are always tagged as dragging, plain moves
// carry the live drag flag. Drag events reporting the origin are platform
// placeholders and are dropped, as are non-finite coordinates and timestamps
// that run backwards.
//
// A Recorder is not safe for concurrent use; it is driven from the engine's
// event loop.
type Recorder struct {
	sink      Sink
	tracking  bool
	dragging  bool
	last      int64
	hasLast   bool
	onDiscard func(DiscardReason)
}

// NewRecorder creates a recorder writing to sink. Tracking starts enabled.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		sink:     sink,
		tracking: true,
	}
}

// OnDiscard registers a hook called for every rejected event.
func (r *Recorder) OnDiscard(fn func(DiscardReason)) {
	r.onDiscard = fn
}

// Attach points the recorder at a new sink, clearing ordering and drag state
// carried over from the previous attempt.
func (r *Recorder) Attach(sink Sink) {
	r.sink = sink
	r.dragging = false
	r.last = 0
	r.hasLast = false
}

// SetTracking toggles the global capture switch.
func (r *Recorder) SetTracking(on bool) {
	r.tracking = on
}

// Tracking reports whether capture is enabled.
func (r *Recorder) Tracking() bool {
	return r.tracking
}

// Dragging reports the live drag flag.
func (r *Recorder) Dragging() bool {
	return r.dragging
}

// PointerMove records a plain motion event.
func (r *Recorder) PointerMove(x, y float64, t int64) bool {
	return r.record(PointSample{X: x, Y: y, Timestamp: t, IsDragging: r.dragging}, false)
}

// DragStart raises the drag flag and records the starting position.
func (r *Recorder) DragStart(x, y float64, t int64) bool {
	r.dragging = true
	return r.record(PointSample{X: x, Y: y, Timestamp: t, IsDragging: true}, true)
}

// DragMove records a position during an active drag.
func (r *Recorder) DragMove(x, y float64, t int64) bool {
	return r.record(PointSample{X: x, Y: y, Timestamp: t, IsDragging: true}, true)
}

// DragEnd lowers the drag flag and records the release position.
func (r *Recorder) DragEnd(x, y float64, t int64) bool {
	r.dragging = false
	return r.record(PointSample{X: x, Y: y, Timestamp: t, IsDragging: true}, true)
}

func (r *Recorder) record(s PointSample, dragPhase bool) bool {
	switch {
	case !r.tracking:
		return r.discard(DiscardPaused)
	case r.sink == nil:
		return r.discard(DiscardDetached)
	case !s.Finite():
		return r.discard(DiscardNonFinite)
	case dragPhase && s.X == 0 && s.Y == 0:
		return r.discard(DiscardOrigin)
	case r.hasLast && s.Timestamp < r.last:
		return r.discard(DiscardOutOfOrder)
	}

	r.sink.Append(s)
	r.last = s.Timestamp
	r.hasLast = true
	return true
}

func (r *Recorder) discard(reason DiscardReason) bool {
	if r.onDiscard != nil {
		r.onDiscard(reason)
	}
	return false
}
