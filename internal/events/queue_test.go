package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversInOrder(t *testing.T) {
	q := NewQueue()
	var got []int64
	q.Subscribe(KindPointerMove, func(_ context.Context, ev Event) {
		got = append(got, ev.Time)
	})

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, q.Publish(Event{Kind: KindPointerMove, Time: i}))
	}
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
	assert.Zero(t, q.Len())
}

func TestQueueHandlerPublishRunsAfterCurrent(t *testing.T) {
	q := NewQueue()
	var trace []string

	q.Subscribe(KindDrop, func(_ context.Context, ev Event) {
		trace = append(trace, "drop:start")
		require.NoError(t, q.Publish(Event{Kind: KindTick, Time: ev.Time + 1}))
		trace = append(trace, "drop:end")
	})
	q.Subscribe(KindTick, func(_ context.Context, _ Event) {
		trace = append(trace, "tick")
	})

	require.NoError(t, q.Publish(Event{Kind: KindDrop, Time: 1}))
	require.NoError(t, q.Publish(Event{Kind: KindVerify, Time: 2}))
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, []string{"drop:start", "drop:end", "tick"}, trace)
}

func TestQueueSubscribeAllRunsLast(t *testing.T) {
	q := NewQueue()
	var trace []string
	q.SubscribeAll(func(_ context.Context, ev Event) { trace = append(trace, "any:"+string(ev.Kind)) })
	q.Subscribe(KindReset, func(context.Context, Event) { trace = append(trace, "reset") })

	require.NoError(t, q.Publish(Event{Kind: KindReset}))
	require.NoError(t, q.Publish(Event{Kind: KindTick}))
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, []string{"reset", "any:reset", "any:tick"}, trace)
}

func TestQueueRunUntilClosed(t *testing.T) {
	q := NewQueue()
	var mu sync.Mutex
	count := 0
	q.Subscribe(KindTick, func(context.Context, Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background()) }()

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Publish(Event{Kind: KindTick, Time: int64(i)}))
	}
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	mu.Lock()
	assert.Equal(t, 100, count)
	mu.Unlock()

	assert.ErrorIs(t, q.Publish(Event{Kind: KindTick}), ErrQueueClosed)
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFromSliceAndCollect(t *testing.T) {
	evs := []Event{
		{Kind: KindPointerMove, Time: 1, X: 3, Y: 4},
		{Kind: KindDrop, Time: 2, Payload: "robot"},
	}
	got, err := Collect(context.Background(), FromSlice(evs))
	require.NoError(t, err)
	assert.Equal(t, evs, got)
}

func TestSourceEmitErrorStops(t *testing.T) {
	stop := errors.New("stop")
	evs := []Event{{Kind: KindTick}, {Kind: KindTick}, {Kind: KindTick}}

	n := 0
	err := FromSlice(evs).Stream(context.Background(), func(Event) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func TestKind(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("wheel").Valid())

	assert.True(t, KindDragMove.Positional())
	assert.False(t, KindDrop.Positional())
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "pointer_move@5(1.0,2.0)", Event{Kind: KindPointerMove, Time: 5, X: 1, Y: 2}.String())
	assert.Equal(t, "drop@9[robot]", Event{Kind: KindDrop, Time: 9, Payload: "robot"}.String())
	assert.Equal(t, "verify@10", Event{Kind: KindVerify, Time: 10}.String())
}
