package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/badgewise/pkg/usecase"
)

func TestCache_GetOrCompute(t *testing.T) {
	t.Run("computes once within TTL", func(t *testing.T) {
		clock := newFakeClock()
		cache := usecase.NewCache[int]("test", time.Minute, 0, clock.Now)
		var calls atomic.Int64
		fn := func(ctx context.Context) (int, error) {
			return int(calls.Add(1)), nil
		}

		first, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.NoError(t, err)
		second, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.NoError(t, err)

		gt.Value(t, first).Equal(1)
		gt.Value(t, second).Equal(1)
		gt.Value(t, calls.Load()).Equal(int64(1))
	})

	t.Run("recomputes after TTL", func(t *testing.T) {
		clock := newFakeClock()
		cache := usecase.NewCache[int]("test", time.Minute, 0, clock.Now)
		var calls atomic.Int64
		fn := func(ctx context.Context) (int, error) {
			return int(calls.Add(1)), nil
		}

		_, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.NoError(t, err)
		clock.Advance(2 * time.Minute)
		v, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.NoError(t, err)
		gt.Value(t, v).Equal(2)
	})

	t.Run("runs one computation for concurrent callers", func(t *testing.T) {
		cache := usecase.NewCache[string]("test", time.Minute, 0, nil)
		var calls atomic.Int64
		release := make(chan struct{})
		fn := func(ctx context.Context) (string, error) {
			calls.Add(1)
			<-release
			return "value", nil
		}

		const callers = 16
		var wg sync.WaitGroup
		results := make([]string, callers)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
				gt.NoError(t, err)
				results[i] = v
			}()
		}

		gt.Bool(t, waitFor(func() bool { return calls.Load() == 1 })).True()
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		gt.Value(t, calls.Load()).Equal(int64(1))
		for _, v := range results {
			gt.Value(t, v).Equal("value")
		}
	})

	t.Run("does not cache errors", func(t *testing.T) {
		cache := usecase.NewCache[int]("test", time.Minute, 0, nil)
		var calls atomic.Int64
		fn := func(ctx context.Context) (int, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("temporary")
			}
			return 42, nil
		}

		_, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.Error(t, err)
		v, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.NoError(t, err)
		gt.Value(t, v).Equal(42)
	})

	t.Run("cancelled caller does not abort the computation", func(t *testing.T) {
		cache := usecase.NewCache[int]("test", time.Minute, 0, nil)
		started := make(chan struct{})
		release := make(chan struct{})
		var computeErr atomic.Value
		fn := func(ctx context.Context) (int, error) {
			close(started)
			<-release
			if ctx.Err() != nil {
				computeErr.Store(ctx.Err())
			}
			return 7, nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := cache.GetOrCompute(ctx, "k", "owner", fn)
			errCh <- err
		}()
		<-started
		cancel()
		gt.Error(t, <-errCh)
		close(release)

		gt.Bool(t, waitFor(func() bool { return cache.Len() == 1 })).True()
		gt.Value(t, computeErr.Load()).Equal(nil)

		v, err := cache.GetOrCompute(context.Background(), "k", "owner", func(ctx context.Context) (int, error) {
			return 0, errors.New("must not be called")
		})
		gt.NoError(t, err)
		gt.Value(t, v).Equal(7)
	})

	t.Run("miss racing a completed computation reuses its value", func(t *testing.T) {
		clock := newFakeClock()
		cache := usecase.NewCache[int]("test", time.Minute, 0, clock.Now)
		var calls atomic.Int64
		fn := func(ctx context.Context) (int, error) {
			return int(calls.Add(1)), nil
		}

		var fired atomic.Bool
		cache.SetBeforeFlight(func() {
			if !fired.CompareAndSwap(false, true) {
				return
			}
			v, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
			gt.NoError(t, err)
			gt.Value(t, v).Equal(1)
		})

		v, err := cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.NoError(t, err)
		gt.Value(t, v).Equal(1)
		gt.Value(t, calls.Load()).Equal(int64(1))
	})

	t.Run("TTL 0 never stores", func(t *testing.T) {
		cache := usecase.NewCache[int]("test", 0, 0, nil)
		var calls atomic.Int64
		fn := func(ctx context.Context) (int, error) {
			return int(calls.Add(1)), nil
		}

		_, _ = cache.GetOrCompute(context.Background(), "k", "owner", fn)
		_, _ = cache.GetOrCompute(context.Background(), "k", "owner", fn)
		gt.Value(t, calls.Load()).Equal(int64(2))
		gt.Value(t, cache.Len()).Equal(0)
	})
}

func TestCache_InvalidateOwner(t *testing.T) {
	t.Run("drops entries of the owner only", func(t *testing.T) {
		cache := usecase.NewCache[int]("test", time.Minute, 0, nil)
		value := func(v int) func(context.Context) (int, error) {
			return func(context.Context) (int, error) { return v, nil }
		}
		_, _ = cache.GetOrCompute(context.Background(), "a1", "alice", value(1))
		_, _ = cache.GetOrCompute(context.Background(), "a2", "alice", value(2))
		_, _ = cache.GetOrCompute(context.Background(), "b1", "bob", value(3))
		gt.Value(t, cache.Len()).Equal(3)

		cache.InvalidateOwner("alice")
		gt.Value(t, cache.Len()).Equal(1)

		v, err := cache.GetOrCompute(context.Background(), "a1", "alice", value(10))
		gt.NoError(t, err)
		gt.Value(t, v).Equal(10)
	})

	t.Run("result of a computation started before invalidation is not stored", func(t *testing.T) {
		cache := usecase.NewCache[int]("test", time.Minute, 0, nil)
		started := make(chan struct{})
		release := make(chan struct{})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = cache.GetOrCompute(context.Background(), "k", "alice", func(context.Context) (int, error) {
				close(started)
				<-release
				return 1, nil
			})
		}()
		<-started
		cache.InvalidateOwner("alice")
		close(release)
		<-done

		gt.Value(t, cache.Len()).Equal(0)
	})
}

func TestCache_Stale(t *testing.T) {
	clock := newFakeClock()
	cache := usecase.NewCache[int]("test", time.Minute, time.Hour, clock.Now)
	_, err := cache.GetOrCompute(context.Background(), "k", "owner", func(context.Context) (int, error) {
		return 5, nil
	})
	gt.NoError(t, err)

	clock.Advance(30 * time.Minute)
	v, ok := cache.Stale("k")
	gt.Bool(t, ok).True()
	gt.Value(t, v).Equal(5)

	clock.Advance(time.Hour)
	_, ok = cache.Stale("k")
	gt.Bool(t, ok).False()

	_, ok = cache.Stale("missing")
	gt.Bool(t, ok).False()
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
