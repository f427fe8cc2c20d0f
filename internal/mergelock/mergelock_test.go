package mergelock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/tandem/internal/errors"
)

func TestAcquireFreeLockReturnsImmediately(t *testing.T) {
	table := New(Config{ProgressInterval: 10 * time.Millisecond})

	if err := table.Acquire(context.Background(), "main", Holder{Agent: "a", Branch: "feat-a"}, time.Second, nil); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h, ok := table.Holder("main")
	if !ok || h.Agent != "a" || h.Branch != "feat-a" {
		t.Errorf("holder = %+v (held=%v)", h, ok)
	}
	if _, ok := table.Holder("develop"); ok {
		t.Error("locks are per target")
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	table := New(Config{ProgressInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if err := table.Acquire(ctx, "main", Holder{Agent: "a"}, time.Second, nil); err != nil {
		t.Fatal(err)
	}

	var progress atomic.Int32
	err := table.Acquire(ctx, "main", Holder{Agent: "b"}, 60*time.Millisecond, func(p WaitProgress) {
		progress.Add(1)
		if p.Holder.Agent != "a" {
			t.Errorf("progress should name holder a, got %q", p.Holder.Agent)
		}
	})

	var timeout *errors.LockTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
	if timeout.Holder != "a" {
		t.Errorf("timeout holder = %q, want a", timeout.Holder)
	}
	if progress.Load() == 0 {
		t.Error("expected at least one wait progress callback")
	}
	if h, _ := table.Holder("main"); h.Agent != "a" {
		t.Errorf("timed-out waiter must not disturb the holder, got %q", h.Agent)
	}
}

func TestWaiterAcquiresAfterRelease(t *testing.T) {
	table := New(Config{ProgressInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if err := table.Acquire(ctx, "main", Holder{Agent: "a"}, time.Second, nil); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- table.Acquire(ctx, "main", Holder{Agent: "b"}, 2*time.Second, nil)
	}()

	select {
	case err := <-done:
		t.Fatalf("second acquire returned while lock held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if held := table.Release("main", Holder{Agent: "a"}); held <= 0 {
		t.Errorf("expected positive hold duration, got %v", held)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not acquire after release")
	}
	if h, _ := table.Holder("main"); h.Agent != "b" {
		t.Errorf("holder = %q, want b", h.Agent)
	}
}

func TestMutualExclusion(t *testing.T) {
	table := New(Config{ProgressInterval: 5 * time.Millisecond})
	ctx := context.Background()

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := table.Acquire(ctx, "main", Holder{Agent: string(rune('a' + i))}, 5*time.Second, nil); err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			if n := inside.Add(1); n != 1 {
				t.Errorf("%d holders inside the critical section", n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			table.Release("main", Holder{Agent: string(rune('a' + i))})
		}(i)
	}
	wg.Wait()

	if _, ok := table.Holder("main"); ok {
		t.Error("lock should be free after all holders released")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	table := New(Config{ProgressInterval: 10 * time.Millisecond})
	if err := table.Acquire(context.Background(), "main", Holder{Agent: "a"}, time.Second, nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := table.Acquire(ctx, "main", Holder{Agent: "b"}, 10*time.Second, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	table := New(DefaultConfig())
	if held := table.Release("nothing", Holder{Agent: "a"}); held != 0 {
		t.Errorf("expected 0, got %v", held)
	}
}

func TestZeroTimeoutTriesOnce(t *testing.T) {
	table := New(DefaultConfig())
	ctx := context.Background()
	if err := table.Acquire(ctx, "main", Holder{Agent: "a"}, 0, nil); err != nil {
		t.Fatalf("free lock with zero timeout: %v", err)
	}
	if err := table.Acquire(ctx, "main", Holder{Agent: "b"}, 0, nil); !errors.Is(err, errors.ErrLockTimeout) {
		t.Fatalf("expected immediate timeout, got %v", err)
	}
}

func TestStaleLockIsReclaimed(t *testing.T) {
	table := New(Config{ProgressInterval: 5 * time.Millisecond, StaleAfter: time.Minute})
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	table.now = func() time.Time { return now }
	ctx := context.Background()

	if err := table.Acquire(ctx, "main", Holder{Agent: "crashed"}, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := table.Acquire(ctx, "main", Holder{Agent: "b"}, 0, nil); !errors.Is(err, errors.ErrLockTimeout) {
		t.Fatalf("fresh lock was reclaimed: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := table.Acquire(ctx, "main", Holder{Agent: "b"}, 0, nil); err != nil {
		t.Fatalf("stale lock should be reclaimed: %v", err)
	}
	if h, _ := table.Holder("main"); h.Agent != "b" {
		t.Errorf("holder = %q, want b", h.Agent)
	}

	// The original holder finishing late must not free b's lock.
	if held := table.Release("main", Holder{Agent: "crashed"}); held != 0 {
		t.Errorf("stale holder released the lock after %v", held)
	}
	if err := table.Acquire(ctx, "main", Holder{Agent: "c"}, 0, nil); !errors.Is(err, errors.ErrLockTimeout) {
		t.Fatalf("c acquired while b holds the lock: %v", err)
	}
	if h, _ := table.Holder("main"); h.Agent != "b" {
		t.Errorf("holder = %q, want b", h.Agent)
	}
}

func TestReleaseByOtherHolderIsNoop(t *testing.T) {
	table := New(DefaultConfig())
	ctx := context.Background()
	if err := table.Acquire(ctx, "main", Holder{Agent: "a", Branch: "x"}, 0, nil); err != nil {
		t.Fatal(err)
	}
	if held := table.Release("main", Holder{Agent: "a", Branch: "y"}); held != 0 {
		t.Errorf("release by another holder returned %v", held)
	}
	if _, ok := table.Holder("main"); !ok {
		t.Error("lock freed by a holder that did not own it")
	}
}

func TestSnapshot(t *testing.T) {
	table := New(DefaultConfig())
	ctx := context.Background()
	_ = table.Acquire(ctx, "release", Holder{Agent: "b"}, 0, nil)
	_ = table.Acquire(ctx, "main", Holder{Agent: "a"}, 0, nil)
	_ = table.Acquire(ctx, "free", Holder{Agent: "c"}, 0, nil)
	table.Release("free", Holder{Agent: "c"})

	snap := table.Snapshot()
	if len(snap) != 2 || snap[0].Target != "main" || snap[1].Target != "release" {
		t.Errorf("snapshot = %+v", snap)
	}
}
