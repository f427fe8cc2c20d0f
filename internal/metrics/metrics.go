// Package metrics exposes engine activity as Prometheus metrics.
//
// Metrics implements events.Handler, so it is fed by subscribing it to the
// engine's event bus; nothing else in the engine records metrics directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/tandem/internal/events"
)

// Metrics holds all Prometheus metrics for tandem.
type Metrics struct {
	// Agent loop metrics
	AgentsRunning prometheus.Gauge
	AgentIdle     *prometheus.CounterVec

	// Task lifecycle metrics
	TasksFound       *prometheus.CounterVec
	TasksStarted     *prometheus.CounterVec
	TasksCompleted   *prometheus.CounterVec
	TasksFailed      *prometheus.CounterVec
	TasksBlocked     *prometheus.CounterVec
	TasksDeferred    *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	TaskTransitions  *prometheus.CounterVec
	CommitRetries    *prometheus.CounterVec
	Uncommitted      *prometheus.CounterVec
	ConflictResolves *prometheus.CounterVec
	SessionsReset    *prometheus.CounterVec

	// Git operation metrics
	GitOperations    *prometheus.CounterVec
	Merges           *prometheus.CounterVec
	WorktreesCreated *prometheus.CounterVec
	BranchesCleaned  *prometheus.CounterVec

	// Merge lock metrics
	LockWait     *prometheus.HistogramVec
	LockHeld     *prometheus.HistogramVec
	LockTimeouts *prometheus.CounterVec

	// Error metrics
	Errors *prometheus.CounterVec
}

var _ events.Handler = (*Metrics)(nil)

// lockBuckets spans quick handoffs to long merges.
var lockBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

// taskBuckets spans short fixes to long agent sessions.
var taskBuckets = []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		AgentsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tandem_agents_running",
				Help: "Number of agent loops currently running",
			},
		),
		AgentIdle: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_agent_idle_total",
				Help: "Total number of idle polls per agent",
			},
			[]string{"agent"},
		),

		TasksFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_tasks_found_total",
				Help: "Total number of tasks picked up",
			},
			[]string{"agent"},
		),
		TasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_tasks_started_total",
				Help: "Total number of agent runs started",
			},
			[]string{"agent", "resuming"},
		),
		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_tasks_completed_total",
				Help: "Total number of tasks completed, by final status",
			},
			[]string{"agent", "status"},
		),
		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_tasks_failed_total",
				Help: "Total number of failed task attempts",
			},
			[]string{"agent"},
		),
		TasksBlocked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_tasks_blocked_total",
				Help: "Total number of tasks moved to blocked",
			},
			[]string{"agent"},
		),
		TasksDeferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_tasks_deferred_total",
				Help: "Total number of merges deferred to a later cycle",
			},
			[]string{"agent", "target"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_task_duration_seconds",
				Help:    "Time from picking up a task to its final status in seconds",
				Buckets: taskBuckets,
			},
			[]string{"status"},
		),
		TaskTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_task_transitions_total",
				Help: "Total number of task status writes",
			},
			[]string{"from", "to"},
		),
		CommitRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_commit_retries_total",
				Help: "Total number of times an agent was asked to commit leftover changes",
			},
			[]string{"agent"},
		),
		Uncommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_uncommitted_changes_total",
				Help: "Total number of post-run checks that found uncommitted changes",
			},
			[]string{"agent"},
		),
		ConflictResolves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_conflict_resolutions_total",
				Help: "Total number of conflict resolution runs",
			},
			[]string{"agent", "target"},
		),
		SessionsReset: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_sessions_corrupted_total",
				Help: "Total number of agent sessions discarded as unrecoverable",
			},
			[]string{"agent"},
		),

		GitOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_git_operations_total",
				Help: "Total number of git network operations",
			},
			[]string{"operation", "repo", "success"},
		),
		Merges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_merges_total",
				Help: "Total number of merges by outcome",
			},
			[]string{"repo", "target", "outcome"},
		),
		WorktreesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_worktrees_created_total",
				Help: "Total number of worktrees created",
			},
			[]string{"repo"},
		),
		BranchesCleaned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_branches_cleaned_total",
				Help: "Total number of merged branches cleaned up",
			},
			[]string{"repo", "success"},
		),

		LockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_merge_lock_wait_seconds",
				Help:    "Time spent waiting for a merge lock in seconds",
				Buckets: lockBuckets,
			},
			[]string{"target"},
		),
		LockHeld: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_merge_lock_held_seconds",
				Help:    "Time a merge lock was held in seconds",
				Buckets: lockBuckets,
			},
			[]string{"target"},
		),
		LockTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_merge_lock_timeouts_total",
				Help: "Total number of merge lock acquisitions that timed out",
			},
			[]string{"target"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_errors_total",
				Help: "Total number of error events",
			},
			[]string{"agent"},
		),
	}
}

// NewRegistry creates a new Prometheus registry with metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	return reg, m
}

// HandlerFor returns an HTTP handler for a specific registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *Metrics) OnAgentStarted(events.AgentStarted) { m.AgentsRunning.Inc() }
func (m *Metrics) OnAgentStopped(events.AgentStopped) { m.AgentsRunning.Dec() }

func (m *Metrics) OnAgentIdle(e events.AgentIdle) {
	m.AgentIdle.WithLabelValues(e.Agent).Inc()
}

func (m *Metrics) OnTaskFound(e events.TaskFound) {
	m.TasksFound.WithLabelValues(e.Agent).Inc()
}

func (m *Metrics) OnTaskStarted(e events.TaskStarted) {
	m.TasksStarted.WithLabelValues(e.Agent, boolLabel(e.Resuming)).Inc()
}

func (m *Metrics) OnTaskCompleted(e events.TaskCompleted) {
	m.TasksCompleted.WithLabelValues(e.Agent, e.Status).Inc()
	m.TaskDuration.WithLabelValues(e.Status).Observe(e.Duration.Seconds())
}

func (m *Metrics) OnTaskFailed(e events.TaskFailed) {
	m.TasksFailed.WithLabelValues(e.Agent).Inc()
}

func (m *Metrics) OnTaskBlocked(e events.TaskBlocked) {
	m.TasksBlocked.WithLabelValues(e.Agent).Inc()
}

func (m *Metrics) OnTaskDeferred(e events.TaskDeferred) {
	m.TasksDeferred.WithLabelValues(e.Agent, e.Target).Inc()
}

func (m *Metrics) OnTaskStatus(e events.TaskStatus) {
	m.TaskTransitions.WithLabelValues(e.From, e.To).Inc()
}

func (m *Metrics) OnGitPull(e events.GitPull) {
	m.GitOperations.WithLabelValues("pull", e.Repo, boolLabel(e.OK)).Inc()
}

func (m *Metrics) OnGitPush(e events.GitPush) {
	m.GitOperations.WithLabelValues("push", e.Repo, boolLabel(e.OK)).Inc()
}

func (m *Metrics) OnGitPR(e events.GitPR) {
	m.GitOperations.WithLabelValues("pr", e.Repo, boolLabel(e.OK)).Inc()
}

func (m *Metrics) OnGitMerge(e events.GitMerge) {
	m.Merges.WithLabelValues(e.Repo, e.Target, e.Outcome).Inc()
}

func (m *Metrics) OnGitCleanup(e events.GitCleanup) {
	m.BranchesCleaned.WithLabelValues(e.Repo, "true").Add(float64(len(e.Deleted)))
	m.BranchesCleaned.WithLabelValues(e.Repo, "false").Add(float64(len(e.Failed)))
}

func (m *Metrics) OnWorktreeCreated(e events.WorktreeCreated) {
	m.WorktreesCreated.WithLabelValues(e.Repo).Inc()
}

func (m *Metrics) OnUncommittedChanges(e events.UncommittedChanges) {
	m.Uncommitted.WithLabelValues(e.Agent).Inc()
}

func (m *Metrics) OnCommitRetry(e events.CommitRetry) {
	m.CommitRetries.WithLabelValues(e.Agent).Inc()
}

// OnLockWaiting is a no-op; waits are observed once acquired or timed out.
func (m *Metrics) OnLockWaiting(events.LockWaiting) {}

func (m *Metrics) OnLockAcquired(e events.LockAcquired) {
	m.LockWait.WithLabelValues(e.Target).Observe(e.Waited.Seconds())
}

func (m *Metrics) OnLockTimeout(e events.LockTimeout) {
	m.LockTimeouts.WithLabelValues(e.Target).Inc()
	m.LockWait.WithLabelValues(e.Target).Observe(e.Waited.Seconds())
}

func (m *Metrics) OnLockReleased(e events.LockReleased) {
	m.LockHeld.WithLabelValues(e.Target).Observe(e.Held.Seconds())
}

func (m *Metrics) OnConflictResolve(e events.ConflictResolve) {
	m.ConflictResolves.WithLabelValues(e.Agent, e.Target).Inc()
}

func (m *Metrics) OnSessionCorrupted(e events.SessionCorrupted) {
	m.SessionsReset.WithLabelValues(e.Agent).Inc()
}

func (m *Metrics) OnLog(events.Log) {}

func (m *Metrics) OnError(e events.Error) {
	m.Errors.WithLabelValues(e.Agent).Inc()
}
