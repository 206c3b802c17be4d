package activity

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sho7650/media-stage/internal/clock"
)

func newTestCounter(t *testing.T) (*Counter, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewCounter(clk, Config{ShowDelay: 200 * time.Millisecond, MinDisplay: 300 * time.Millisecond})
	t.Cleanup(c.Close)
	return c, clk
}

func TestCounter_ShortBurstNeverVisible(t *testing.T) {
	c, clk := newTestCounter(t)

	changes, unsubscribe := c.Subscribe()
	defer unsubscribe()
	require.False(t, <-changes, "initial value should be false")

	c.Begin()
	assert.Equal(t, StatePendingShow, c.State())

	clk.Advance(50 * time.Millisecond)
	c.End()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, clk.Pending(), "show timer should be cancelled")

	clk.Advance(time.Second)
	assert.False(t, c.Visible())

	select {
	case v := <-changes:
		t.Fatalf("unexpected visibility change to %v", v)
	default:
	}
}

func TestCounter_Scenario(t *testing.T) {
	c, clk := newTestCounter(t)

	// t=0
	c.Begin()
	clk.Advance(199 * time.Millisecond)
	assert.False(t, c.Visible(), "not visible before show delay")

	// t=200
	clk.Advance(time.Millisecond)
	assert.True(t, c.Visible(), "visible once show delay elapsed")
	assert.Equal(t, StateVisible, c.State())

	// t=220
	clk.Advance(20 * time.Millisecond)
	c.End()
	assert.Equal(t, StatePendingHide, c.State())

	// t=500
	clk.Advance(280 * time.Millisecond)
	assert.True(t, c.Visible())
	c.Begin()
	assert.Equal(t, StateVisible, c.State(), "begin should cancel pending hide")
	assert.Equal(t, 0, clk.Pending())

	// t=520: the cancelled hide would have fired here
	clk.Advance(20 * time.Millisecond)
	assert.True(t, c.Visible())

	// t=600
	clk.Advance(80 * time.Millisecond)
	c.End()
	assert.Equal(t, StatePendingHide, c.State())

	// t=899
	clk.Advance(299 * time.Millisecond)
	assert.True(t, c.Visible())

	// t=900
	clk.Advance(time.Millisecond)
	assert.False(t, c.Visible())
	assert.Equal(t, StateIdle, c.State())
}

func TestCounter_MinDisplayAfterImmediateEnd(t *testing.T) {
	c, clk := newTestCounter(t)

	c.Begin()
	clk.Advance(200 * time.Millisecond)
	require.True(t, c.Visible())

	c.End()
	clk.Advance(299 * time.Millisecond)
	assert.True(t, c.Visible(), "must stay visible for the minimum display time")

	clk.Advance(time.Millisecond)
	assert.False(t, c.Visible())
}

func TestCounter_OverlappingOperations(t *testing.T) {
	c, clk := newTestCounter(t)

	c.Begin()
	c.Begin()
	c.Begin()
	assert.Equal(t, 1, clk.Pending(), "only one show timer for overlapping begins")

	c.End()
	c.End()
	assert.Equal(t, StatePendingShow, c.State())

	clk.Advance(200 * time.Millisecond)
	assert.True(t, c.Visible())

	c.End()
	assert.Equal(t, 0, c.Count())
	clk.Advance(300 * time.Millisecond)
	assert.False(t, c.Visible())
}

func TestCounter_EndWithoutBegin(t *testing.T) {
	reg := prometheus.NewRegistry()
	clk := clock.NewFake(time.Unix(0, 0))
	m := NewMetrics(reg)
	c := NewCounter(clk, Config{}, WithMetrics(m))
	defer c.Close()

	c.End()
	c.End()
	assert.Equal(t, 0, c.Count(), "count must never go negative")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Imbalance))

	c.Begin()
	assert.Equal(t, 1, c.Count(), "a clamped imbalance does not absorb later begins")
	clk.Advance(DefaultShowDelay)
	assert.True(t, c.Visible())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Visible))
}

func TestCounter_ImbalanceWhileHiding(t *testing.T) {
	c, clk := newTestCounter(t)

	c.Begin()
	clk.Advance(200 * time.Millisecond)
	c.End()
	require.Equal(t, StatePendingHide, c.State())

	c.End()
	assert.Equal(t, 1, clk.Pending(), "extra end must not arm a second hide timer")

	clk.Advance(300 * time.Millisecond)
	assert.False(t, c.Visible())
}

func TestCounter_BalancedSequencesSettleToIdle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		c, clk := newTestCounter(t)

		open := 0
		steps := rng.Intn(40) + 1
		for s := 0; s < steps; s++ {
			if open == 0 || rng.Intn(2) == 0 {
				c.Begin()
				open++
			} else {
				c.End()
				open--
			}
			require.GreaterOrEqual(t, c.Count(), 0)
			clk.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
		}
		for ; open > 0; open-- {
			c.End()
		}

		clk.Advance(time.Second)
		snap := c.Snapshot()
		assert.Equal(t, Snapshot{Count: 0, Visible: false, State: StateIdle}, snap, "sequence %d", i)
		assert.Equal(t, 0, clk.Pending(), "sequence %d left timers behind", i)
	}
}

func TestCounter_VisibleLastsAtLeastMinDisplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c, clk := newTestCounter(t)

	var shownAt time.Time
	wasVisible := false
	check := func() {
		v := c.Visible()
		switch {
		case v && !wasVisible:
			shownAt = clk.Now()
		case !v && wasVisible:
			assert.GreaterOrEqual(t, clk.Now().Sub(shownAt), 300*time.Millisecond)
		}
		wasVisible = v
	}

	open := 0
	for s := 0; s < 500; s++ {
		if open == 0 || rng.Intn(2) == 0 {
			c.Begin()
			open++
		} else {
			c.End()
			open--
		}
		check()
		for ms := rng.Intn(250); ms > 0; ms-- {
			clk.Advance(time.Millisecond)
			check()
		}
	}
}

func TestCounter_StaleShowFireIsIgnored(t *testing.T) {
	c, _ := newTestCounter(t)

	c.Begin()
	stale := c.show
	c.End()

	// Simulate a timer that fired while End held the lock.
	c.fireShow(stale)
	assert.False(t, c.Visible())
	assert.Equal(t, StateIdle, c.State())
}

func TestCounter_ShowFireRechecksCount(t *testing.T) {
	c, _ := newTestCounter(t)

	c.Begin()
	p := c.show

	// Force count to zero behind the state machine's back.
	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()

	c.fireShow(p)
	assert.False(t, c.Visible(), "show timer must re-check the count")
}

func TestCounter_Subscribe(t *testing.T) {
	c, clk := newTestCounter(t)

	changes, unsubscribe := c.Subscribe()
	assert.False(t, <-changes)

	c.Begin()
	clk.Advance(200 * time.Millisecond)
	assert.True(t, <-changes)

	c.End()
	clk.Advance(300 * time.Millisecond)
	assert.False(t, <-changes)

	unsubscribe()
	unsubscribe()
	_, ok := <-changes
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestCounter_SubscribeCoalesces(t *testing.T) {
	c, clk := newTestCounter(t)

	changes, unsubscribe := c.Subscribe()
	defer unsubscribe()

	// Nobody reads while the signal goes up and down.
	c.Begin()
	clk.Advance(200 * time.Millisecond)
	c.End()
	clk.Advance(300 * time.Millisecond)

	assert.False(t, <-changes, "only the latest value is kept")
	select {
	case v := <-changes:
		t.Fatalf("unexpected extra value %v", v)
	default:
	}
}

func TestCounter_Close(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := NewCounter(clk, Config{})

	changes, _ := c.Subscribe()
	<-changes

	c.Begin()
	clk.Advance(DefaultShowDelay)
	require.True(t, <-changes)

	c.Begin()
	c.End()
	c.End()
	require.Equal(t, 1, clk.Pending(), "hide timer pending")

	c.Close()
	assert.Equal(t, 0, clk.Pending(), "close cancels pending timers")
	assert.False(t, c.Visible())
	assert.False(t, <-changes)
	_, ok := <-changes
	assert.False(t, ok)

	c.Begin()
	assert.Equal(t, 0, c.Count(), "begin after close is a no-op")

	late, _ := c.Subscribe()
	assert.False(t, <-late)
	c.Close()
}

func TestCounter_Track(t *testing.T) {
	c, _ := newTestCounter(t)
	ctx := context.Background()

	t.Run("Pairs begin and end on success", func(t *testing.T) {
		err := c.Track(ctx, func(ctx context.Context) error {
			assert.Equal(t, 1, c.Count())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 0, c.Count())
	})

	t.Run("Pairs begin and end on failure", func(t *testing.T) {
		wantErr := errors.New("api unavailable")
		err := c.Track(ctx, func(ctx context.Context) error {
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 0, c.Count())
	})

	t.Run("Pairs begin and end on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = c.Track(ctx, func(ctx context.Context) error {
				panic("boom")
			})
		})
		assert.Equal(t, 0, c.Count())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending_show", StatePendingShow.String())
	assert.Equal(t, "visible", StateVisible.String())
	assert.Equal(t, "pending_hide", StatePendingHide.String())
	assert.Equal(t, "unknown", State(9).String())
}
