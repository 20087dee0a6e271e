package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsMonotonic(t *testing.T) {
	prev := Now()
	for i := 0; i < 10_000; i++ {
		cur := Now()
		require.GreaterOrEqual(t, int64(cur), int64(prev), "clock went backwards at iteration %d", i)
		prev = cur
	}
}

func TestNowIsMonotonicAcrossGoroutines(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := Now()
			for i := 0; i < 1_000; i++ {
				cur := Now()
				assert.GreaterOrEqual(t, int64(cur), int64(prev))
				prev = cur
			}
		}()
	}
	wg.Wait()
}

func TestSince(t *testing.T) {
	elapsed := Since(Now())
	assert.GreaterOrEqual(t, elapsed, int64(0))
	assert.Less(t, elapsed, int64(time.Second))

	future := Now() + Timestamp(time.Hour)
	assert.Negative(t, Since(future), "a start in the future is not clamped")
}

func TestTimestampSub(t *testing.T) {
	assert.Equal(t, int64(5), Timestamp(15).Sub(10))
	assert.Equal(t, int64(-5), Timestamp(10).Sub(15))
}

func TestTick(t *testing.T) {
	var c Clock
	require.Zero(t, c.Start)

	before := Now()
	c.Tick()
	after := Now()
	assert.GreaterOrEqual(t, int64(c.Start), int64(before))
	assert.LessOrEqual(t, int64(c.Start), int64(after))

	d, err := c.DistanceFromNow(Nanoseconds)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, int64(0))
	assert.Less(t, d, int64(time.Second))
}

func TestTickNilIsNoop(t *testing.T) {
	var c *Clock
	assert.NotPanics(t, func() { c.Tick() })
}

func TestNewClockIsTicked(t *testing.T) {
	before := Now()
	c := NewClock()
	assert.GreaterOrEqual(t, int64(c.Start), int64(before))
}

func TestDistance(t *testing.T) {
	a := &Clock{Start: 1_000}
	b := &Clock{Start: 3_001_000}

	d, err := Distance(a, b, Milliseconds)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d)

	d, err = Distance(b, a, Milliseconds)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), d, "reversed handles give a negative distance")

	d, err = Distance(b, a, Nanoseconds)
	require.NoError(t, err)
	assert.Equal(t, int64(-3_000_000), d)
}

func TestDistanceErrors(t *testing.T) {
	c := NewClock()

	_, err := Distance(nil, c, Seconds)
	assert.ErrorIs(t, err, ErrNilClock)

	_, err = Distance(c, nil, Seconds)
	assert.ErrorIs(t, err, ErrNilClock)

	_, err = Distance(c, c, Unit(42))
	assert.ErrorIs(t, err, ErrInvalidUnit)

	var nilClock *Clock
	_, err = nilClock.DistanceFromNow(Seconds)
	assert.ErrorIs(t, err, ErrNilClock)

	_, err = c.DistanceFromNow(Unit(7))
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

func TestElapsed(t *testing.T) {
	var nilClock *Clock
	assert.Zero(t, nilClock.Elapsed())

	c := NewClock()
	assert.GreaterOrEqual(t, c.Elapsed(), time.Duration(0))
}

func TestDistanceRoundTrip(t *testing.T) {
	const wait = 50 * time.Millisecond

	var h1, h2 Clock
	h1.Tick()
	time.Sleep(wait)
	h2.Tick()

	d, err := Distance(&h1, &h2, Milliseconds)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, int64(45))
	assert.LessOrEqual(t, d, int64(250), "scheduler jitter beyond tolerance")
}

func BenchmarkNow(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Now()
	}
}

func BenchmarkTickDistance(b *testing.B) {
	var start, end Clock
	for i := 0; i < b.N; i++ {
		start.Tick()
		end.Tick()
		_, _ = Distance(&start, &end, Microseconds)
	}
}
