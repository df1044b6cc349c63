package scan

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"oauthpilot/internal/dom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type counter struct{ n atomic.Int32 }

func (c *counter) scan(context.Context) { c.n.Add(1) }
func (c *counter) count() int          { return int(c.n.Load()) }

func start(t *testing.T, opts Options, fn func(context.Context)) (*Scheduler, chan dom.Mutation) {
	t.Helper()
	s := New(opts, fn)
	ch := make(chan dom.Mutation, 16)
	s.Start(context.Background(), ch)
	t.Cleanup(s.Stop)
	return s, ch
}

func TestInitialDelays(t *testing.T) {
	var c counter
	start(t, Options{Delays: []time.Duration{10 * time.Millisecond, 40 * time.Millisecond}}, c.scan)

	assert.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestEveryNthButtonishMutation(t *testing.T) {
	var c counter
	s, ch := start(t, Options{MutationEvery: 3}, c.scan)

	for i := 0; i < 6; i++ {
		ch <- dom.Mutation{Kind: "childList", Tag: "div", Buttonish: true}
		ch <- dom.Mutation{Kind: "attributes", Tag: "span"}
	}
	assert.Eventually(t, func() bool { return s.MutationCount() == 6 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebounceCollapsesBurst(t *testing.T) {
	var c counter
	s, _ := start(t, Options{Debounce: 30 * time.Millisecond}, c.scan)

	for i := 0; i < 10; i++ {
		s.Request()
	}
	assert.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return c.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestThrottleKeepsTrailingScan(t *testing.T) {
	var c counter
	s, _ := start(t, Options{Throttle: 100 * time.Millisecond}, c.scan)

	s.Request()
	assert.Equal(t, 1, c.count())

	s.Request()
	s.Request()
	assert.Equal(t, 1, c.count())

	assert.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return c.count() > 2 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestResetScansImmediately(t *testing.T) {
	var c counter
	s, ch := start(t, Options{MutationEvery: 5, Throttle: time.Hour}, c.scan)

	s.Request()
	require.Equal(t, 1, c.count())

	ch <- dom.Mutation{Buttonish: true}
	assert.Eventually(t, func() bool { return s.MutationCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Reset()
	assert.Equal(t, 2, c.count())
	assert.Zero(t, s.MutationCount())

	// 限流器随重置清空
	s.Request()
	assert.Equal(t, 3, c.count())
}

func TestNothingBeforeStart(t *testing.T) {
	var c counter
	s := New(Options{}, c.scan)
	s.Request()
	s.Reset()
	assert.Zero(t, c.count())
}

func TestStopCancelsPending(t *testing.T) {
	var c counter
	s := New(Options{Delays: []time.Duration{30 * time.Millisecond}, Debounce: 20 * time.Millisecond}, c.scan)
	s.Start(context.Background(), nil)
	s.Request()
	s.Stop()

	assert.Never(t, func() bool { return c.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	s.Request()
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, c.count())
}

func TestScanNeverReenters(t *testing.T) {
	var active, maxActive, total atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		total.Add(1)
		<-release
		active.Add(-1)
	}
	s, _ := start(t, Options{}, fn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Request()
	}()
	assert.Eventually(t, func() bool { return active.Load() == 1 }, time.Second, 5*time.Millisecond)

	// 进行中的多个请求合并为一次补扫
	s.Request()
	s.Reset()
	s.Request()
	close(release)
	<-done

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, int32(2), total.Load())
}

func TestRequestDuringScanIsNotLost(t *testing.T) {
	var calls atomic.Int32
	inScan := make(chan struct{})
	release := make(chan struct{})
	fn := func(context.Context) {
		if calls.Add(1) == 1 {
			close(inScan)
			<-release
		}
	}
	s, _ := start(t, Options{}, fn)

	go s.Request()
	<-inScan
	s.Request()
	assert.Equal(t, int32(1), calls.Load())
	close(release)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestScanContextCancelledOnStop(t *testing.T) {
	got := make(chan context.Context, 1)
	s := New(Options{}, func(ctx context.Context) { got <- ctx })
	s.Start(context.Background(), nil)
	s.Request()
	ctx := <-got
	require.NoError(t, ctx.Err())
	s.Stop()
	assert.Error(t, ctx.Err())
}
