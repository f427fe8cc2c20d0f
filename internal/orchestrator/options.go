package orchestrator

import (
	"time"

	"github.com/ShayCichocki/tandem/internal/agent"
	"github.com/ShayCichocki/tandem/internal/events"
	"github.com/ShayCichocki/tandem/internal/mergelock"
	"github.com/ShayCichocki/tandem/internal/taskstore"
)

// RequiredConfig contains the minimal required configuration for an Engine.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Agents are the ids of the loops to run, one loop each.
	Agents []string
	Store  taskstore.Store
	Git    GitWorkflow
	Runner agent.Runner
}

// Policy holds the tunables of the work loop.
type Policy struct {
	PollInterval          time.Duration
	AllowPendingMergeDeps bool
	MaxCommitAttempts     int
	MaxConflictAttempts   int
	// MaxTaskAttempts failed attempts block the task.
	MaxTaskAttempts int
	// MergeRetryDelay is how long a deferred merge waits before another try.
	MergeRetryDelay time.Duration
	LockTimeout     time.Duration
	// DefaultRepo is used for tasks that name no repo.
	DefaultRepo string
}

// DefaultPolicy returns the policy used when none is given.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:        10 * time.Second,
		MaxCommitAttempts:   3,
		MaxConflictAttempts: 2,
		MaxTaskAttempts:     3,
		MergeRetryDelay:     time.Minute,
		LockTimeout:         10 * time.Minute,
	}
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	policy  Policy
	state   StateStore
	bus     *events.Bus
	locks   *mergelock.Table
	claims  *Claims
	pause   *PauseController
	prompts PromptBuilder
	logger  *DebugLogger
	wake    <-chan struct{}
	now     func() time.Time
}

// WithPolicy sets the loop policy.
func WithPolicy(p Policy) Option {
	return func(o *engineOptions) { o.policy = p }
}

// WithState sets where sessions and attempts are kept. If the store also
// implements state.Recoverer, interrupted attempts are recovered on Run.
func WithState(s StateStore) Option {
	return func(o *engineOptions) { o.state = s }
}

// WithBus sets the bus events are emitted on.
func WithBus(b *events.Bus) Option {
	return func(o *engineOptions) { o.bus = b }
}

// WithLocks shares a merge lock table, e.g. with the preview server.
func WithLocks(t *mergelock.Table) Option {
	return func(o *engineOptions) { o.locks = t }
}

// WithClaims shares a worktree claim registry.
func WithClaims(c *Claims) Option {
	return func(o *engineOptions) { o.claims = c }
}

// WithPauseController sets the controller used to pause task pickup.
func WithPauseController(p *PauseController) Option {
	return func(o *engineOptions) { o.pause = p }
}

// WithPrompts replaces DefaultPrompts.
func WithPrompts(p PromptBuilder) Option {
	return func(o *engineOptions) { o.prompts = p }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithWake wakes idle loops early whenever ch receives, e.g. from
// taskstore.FileStore.Watch.
func WithWake(ch <-chan struct{}) Option {
	return func(o *engineOptions) { o.wake = ch }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}
