// Package mergelock serializes merges into a shared target branch across agent loops.
//
// The table is in-memory only. A process restart forgets every lock, which is
// safe because the holders (agent loops) die with the process.
package mergelock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/tandem/internal/errors"
)

// Holder identifies who holds a lock.
type Holder struct {
	Agent  string `json:"agent"`
	Branch string `json:"branch"`
}

// WaitProgress is reported periodically while a caller waits.
type WaitProgress struct {
	Target string
	Holder Holder
	Waited time.Duration
}

// LockInfo describes a held lock.
type LockInfo struct {
	Target     string    `json:"target"`
	Holder     Holder    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Config controls waiting behaviour.
type Config struct {
	// ProgressInterval is how often waiters are told who they are waiting on.
	ProgressInterval time.Duration
	// StaleAfter force-releases a lock held longer than this. Zero disables it.
	StaleAfter time.Duration
}

// DefaultConfig returns the defaults used by the engine.
func DefaultConfig() Config {
	return Config{ProgressInterval: 5 * time.Second}
}

type lockState struct {
	held       bool
	holder     Holder
	acquiredAt time.Time
	// released is closed and replaced each time the lock is released.
	released chan struct{}
}

// Table maps target branch names to lock state. Entries are created lazily.
type Table struct {
	mu    sync.Mutex
	locks map[string]*lockState
	cfg   Config
	now   func() time.Time
}

// New creates an empty lock table.
func New(cfg Config) *Table {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultConfig().ProgressInterval
	}
	return &Table{
		locks: make(map[string]*lockState),
		cfg:   cfg,
		now:   time.Now,
	}
}

// Acquire takes the lock on target for holder. If the lock is held it blocks,
// calling onWait every progress interval, until the lock is released, the
// timeout elapses or ctx is done. A timeout returns *errors.LockTimeoutError.
// A timeout of zero or less tries exactly once.
func (t *Table) Acquire(ctx context.Context, target string, holder Holder, timeout time.Duration, onWait func(WaitProgress)) error {
	start := t.now()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(t.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		released, current, ok := t.tryAcquire(target, holder)
		if ok {
			return nil
		}
		if timeout <= 0 {
			return &errors.LockTimeoutError{Target: target, Holder: current.Agent, Waited: t.now().Sub(start), Timeout: timeout}
		}

		select {
		case <-released:
		case <-ticker.C:
			if onWait != nil {
				onWait(WaitProgress{Target: target, Holder: current, Waited: t.now().Sub(start)})
			}
		case <-deadline:
			// One last look in case the release raced the timer.
			_, last, ok := t.tryAcquire(target, holder)
			if ok {
				return nil
			}
			return &errors.LockTimeoutError{Target: target, Holder: last.Agent, Waited: t.now().Sub(start), Timeout: timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryAcquire takes the lock if it is free (or stale). Otherwise it returns the
// channel closed on the next release and the current holder.
func (t *Table) tryAcquire(target string, holder Holder) (<-chan struct{}, Holder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.locks[target]
	if !ok {
		st = &lockState{released: make(chan struct{})}
		t.locks[target] = st
	}

	if st.held && t.cfg.StaleAfter > 0 && t.now().Sub(st.acquiredAt) > t.cfg.StaleAfter {
		t.releaseLocked(st)
	}
	if st.held {
		return st.released, st.holder, false
	}

	st.held = true
	st.holder = holder
	st.acquiredAt = t.now()
	return nil, holder, true
}

// Release frees the lock on target if holder still holds it and returns how
// long it was held. Releasing a free or unknown target, or a lock that was
// reclaimed by someone else, is a no-op.
func (t *Table) Release(target string, holder Holder) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.locks[target]
	if !ok || !st.held || st.holder != holder {
		return 0
	}
	held := t.now().Sub(st.acquiredAt)
	t.releaseLocked(st)
	return held
}

func (t *Table) releaseLocked(st *lockState) {
	st.held = false
	st.holder = Holder{}
	st.acquiredAt = time.Time{}
	close(st.released)
	st.released = make(chan struct{})
}

// Holder returns the current holder of target, if any.
func (t *Table) Holder(target string) (Holder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.locks[target]
	if !ok || !st.held {
		return Holder{}, false
	}
	return st.holder, true
}

// Snapshot lists held locks sorted by target.
func (t *Table) Snapshot() []LockInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []LockInfo
	for target, st := range t.locks {
		if st.held {
			out = append(out, LockInfo{Target: target, Holder: st.holder, AcquiredAt: st.acquiredAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}
