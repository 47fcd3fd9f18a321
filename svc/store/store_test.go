package store

import (
	"fmt"
	"pastelite/pkg/domain"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	return New(WithClock(clk.Now), WithShards(4)), clk
}

func TestCreateThenConsume(t *testing.T) {
	st, clk := newTestStore(t)
	p, err := st.Create("abc123", "hello", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc123", p.ID)
	assert.Equal(t, clk.Now(), p.CreatedAt)
	assert.False(t, p.HasTTL())
	assert.False(t, p.HasViewLimit())
	assert.Zero(t, p.Views)

	for i := 1; i <= 3; i++ {
		res := st.Consume("abc123")
		require.Equal(t, Found, res.Outcome)
		assert.Equal(t, "hello", res.Paste.Content)
		assert.Equal(t, i, res.Paste.Views)
	}
}

func TestConsumeUnknown(t *testing.T) {
	st, _ := newTestStore(t)
	res := st.Consume("nope")
	assert.Equal(t, NotFound, res.Outcome)
	assert.Nil(t, res.Paste)
}

func TestCreateRejectsEmptyAndLiveID(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Create("", "x", 0, 0)
	require.Error(t, err)

	_, err = st.Create("dup", "first", 0, 0)
	require.NoError(t, err)
	_, err = st.Create("dup", "second", 0, 0)
	require.ErrorIs(t, err, ErrIDTaken)

	res := st.Consume("dup")
	require.Equal(t, Found, res.Outcome)
	assert.Equal(t, "first", res.Paste.Content)
}

func TestCreateReusesRetiredID(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Create("again", "one", 0, 1)
	require.NoError(t, err)
	require.Equal(t, Found, st.Consume("again").Outcome)
	require.Equal(t, Expired, st.Consume("again").Outcome)

	_, err = st.Create("again", "two", 0, 0)
	require.NoError(t, err)
	res := st.Consume("again")
	require.Equal(t, Found, res.Outcome)
	assert.Equal(t, "two", res.Paste.Content)
	assert.Equal(t, 1, res.Paste.Views)
}

func TestViewLimit(t *testing.T) {
	st, _ := newTestStore(t)
	p, err := st.Create("v3", "limited", 0, 3)
	require.NoError(t, err)
	assert.True(t, p.HasViewLimit())

	for i := 1; i <= 3; i++ {
		res := st.Consume("v3")
		require.Equal(t, Found, res.Outcome, "read %d", i)
		assert.Equal(t, i, res.Paste.Views)
		assert.Equal(t, 3, res.Paste.MaxViews)
	}
	res := st.Consume("v3")
	assert.Equal(t, Expired, res.Outcome)
	assert.Equal(t, domain.ReasonViews, res.Reason)
	assert.Nil(t, res.Paste)

	assert.Equal(t, NotFound, st.Consume("v3").Outcome)
	assert.Zero(t, st.Len())
}

func TestTTLBoundary(t *testing.T) {
	st, clk := newTestStore(t)
	p, err := st.Create("ttl", "short", 10*time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(10*time.Second), p.ExpiresAt)

	clk.Advance(10*time.Second - time.Nanosecond)
	require.Equal(t, Found, st.Consume("ttl").Outcome)

	clk.Advance(time.Nanosecond)
	res := st.Consume("ttl")
	assert.Equal(t, Expired, res.Outcome)
	assert.Equal(t, domain.ReasonTTL, res.Reason)
	assert.Equal(t, NotFound, st.Consume("ttl").Outcome)
}

func TestTTLCheckedBeforeViews(t *testing.T) {
	st, clk := newTestStore(t)
	_, err := st.Create("both", "x", time.Minute, 1)
	require.NoError(t, err)
	require.Equal(t, Found, st.Consume("both").Outcome)

	clk.Advance(time.Hour)
	res := st.Consume("both")
	assert.Equal(t, Expired, res.Outcome)
	assert.Equal(t, domain.ReasonTTL, res.Reason)
}

func TestNonPositiveLimitsMeanUnlimited(t *testing.T) {
	st, clk := newTestStore(t)
	p, err := st.Create("free", "x", -time.Second, -4)
	require.NoError(t, err)
	assert.False(t, p.HasTTL())
	assert.False(t, p.HasViewLimit())

	clk.Advance(365 * 24 * time.Hour)
	for i := 0; i < 50; i++ {
		require.Equal(t, Found, st.Consume("free").Outcome)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Create("snap", "x", 0, 0)
	require.NoError(t, err)
	first := st.Consume("snap").Paste
	first.Views = 100
	first.Content = "changed"
	second := st.Consume("snap").Paste
	assert.Equal(t, 2, second.Views)
	assert.Equal(t, "x", second.Content)
}

func TestSweep(t *testing.T) {
	st, clk := newTestStore(t)
	_, err := st.Create("short", "a", time.Second, 0)
	require.NoError(t, err)
	_, err = st.Create("long", "b", time.Hour, 0)
	require.NoError(t, err)
	_, err = st.Create("forever", "c", 0, 0)
	require.NoError(t, err)
	_, err = st.Create("spent", "d", 0, 1)
	require.NoError(t, err)
	require.Equal(t, Found, st.Consume("spent").Outcome)

	assert.Zero(t, st.Sweep())
	clk.Advance(time.Second)
	assert.Equal(t, 1, st.Sweep())
	assert.Equal(t, 3, st.Len())
	assert.Equal(t, NotFound, st.Consume("short").Outcome)

	// view-exhausted entries stay until a read retires them
	res := st.Consume("spent")
	assert.Equal(t, Expired, res.Outcome)
	assert.Equal(t, domain.ReasonViews, res.Reason)
}

func TestWithShardsRoundsUp(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultShards},
		{-3, DefaultShards},
		{1, 1},
		{3, 4},
		{32, 32},
		{33, 64},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, New(WithShards(tt.in)).Shards())
		})
	}
	assert.Equal(t, DefaultShards, New().Shards())
}

func TestConcurrentSingleViewDeliveredOnce(t *testing.T) {
	st := New()
	_, err := st.Create("once", "secret", 0, 1)
	require.NoError(t, err)

	const readers = 64
	var found, expired, missing int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch st.Consume("once").Outcome {
			case Found:
				atomic.AddInt64(&found, 1)
			case Expired:
				atomic.AddInt64(&expired, 1)
			default:
				atomic.AddInt64(&missing, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, found)
	assert.EqualValues(t, 1, expired)
	assert.EqualValues(t, readers-2, missing)
}

func TestConcurrentViewsNeverExceedLimit(t *testing.T) {
	st := New()
	const limit = 25
	_, err := st.Create("many", "x", 0, limit)
	require.NoError(t, err)

	var found int64
	seen := make([]int32, limit+1)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := st.Consume("many")
			if res.Outcome == Found {
				atomic.AddInt64(&found, 1)
				atomic.AddInt32(&seen[res.Paste.Views], 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, limit, found)
	for v := 1; v <= limit; v++ {
		assert.EqualValues(t, 1, seen[v], "view number %d", v)
	}
}

func TestConcurrentCreateSameID(t *testing.T) {
	st := New()
	var ok, taken int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.Create("race", fmt.Sprint(i), 0, 0)
			if err == nil {
				atomic.AddInt64(&ok, 1)
			} else if err == ErrIDTaken {
				atomic.AddInt64(&taken, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 99, taken)
}

func TestSweepRacesConsume(t *testing.T) {
	st, clk := newTestStore(t)
	const n = 200
	for i := 0; i < n; i++ {
		_, err := st.Create(fmt.Sprintf("p%03d", i), "x", time.Second, 0)
		require.NoError(t, err)
	}
	clk.Advance(time.Second)

	var expired int64
	var swept int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		atomic.AddInt64(&swept, int64(st.Sweep()))
	}()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := st.Consume(fmt.Sprintf("p%03d", i))
			assert.NotEqual(t, Found, res.Outcome)
			if res.Outcome == Expired {
				atomic.AddInt64(&expired, 1)
			}
		}(i)
	}
	wg.Wait()

	// every entry leaves exactly once, through one path or the other
	assert.EqualValues(t, n, expired+swept)
	assert.Zero(t, st.Len())
}

func TestTwoReadersSingleView(t *testing.T) {
	st := New()
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("pair%d", i)
		_, err := st.Create(id, "x", 0, 1)
		require.NoError(t, err)

		results := make([]Outcome, 2)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for r := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				results[r] = st.Consume(id).Outcome
			}()
		}
		close(start)
		wg.Wait()
		assert.ElementsMatch(t, []Outcome{Found, Expired}, results, "iteration %d", i)
	}
}
