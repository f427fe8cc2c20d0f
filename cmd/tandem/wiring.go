package main

import (
	"github.com/ShayCichocki/tandem/internal/agent"
	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/exec"
	"github.com/ShayCichocki/tandem/internal/git"
	"github.com/ShayCichocki/tandem/internal/mergelock"
	"github.com/ShayCichocki/tandem/internal/orchestrator"
)

// newCoordinator builds the git coordinator for the configured repositories.
func newCoordinator(cfg *config.Config) *git.Coordinator {
	repos := make(map[string]git.Repo, len(cfg.Repos))
	for name, r := range cfg.Repos {
		repos[name] = git.Repo{
			Name:          name,
			Path:          r.Path,
			DefaultBranch: r.DefaultBranch,
			Remote:        r.Remote,
		}
	}
	return git.NewCoordinator(commandRunner(cfg), git.CoordinatorConfig{
		WorktreeRoot:       cfg.Engine.WorktreeRoot,
		Repos:              repos,
		CleanupParallelism: cfg.Engine.CleanupParallelism,
	})
}

// commandRunner runs git and gh, through the sandbox wrapper when enabled.
func commandRunner(cfg *config.Config) exec.CommandRunner {
	if cfg.Sandbox.Enabled {
		return exec.NewPolicyRunner(exec.NewRunner(), cfg.Sandbox.Wrapper)
	}
	return exec.NewRunner()
}

// newAgentRunner builds the agent CLI runner, sandboxed when configured.
func newAgentRunner(cfg *config.Config) *agent.ClaudeRunner {
	var spawner exec.Spawner = exec.NewRunner()
	if cfg.Sandbox.Enabled {
		spawner = exec.NewPolicyRunner(spawner, cfg.Sandbox.Wrapper)
	}

	r := agent.NewClaudeRunner(spawner)
	if cfg.Agent.Command != "" {
		r.Command = cfg.Agent.Command
	}
	r.Model = cfg.Agent.Model
	if len(cfg.Agent.AllowedTools) > 0 {
		r.AllowedTools = cfg.Agent.AllowedTools
	}
	r.ExtraArgs = cfg.Agent.ExtraArgs
	r.Env = config.AgentEnv(cfg)
	return r
}

// policyFrom maps the retry, lock and engine settings onto an engine policy.
func policyFrom(cfg *config.Config) orchestrator.Policy {
	p := orchestrator.DefaultPolicy()
	p.PollInterval = cfg.Engine.PollInterval
	p.AllowPendingMergeDeps = cfg.Engine.AllowPendingMergeDeps
	p.DefaultRepo = cfg.Engine.DefaultRepo
	p.MaxCommitAttempts = cfg.Retry.MaxCommitAttempts
	p.MaxConflictAttempts = cfg.Retry.MaxConflictAttempts
	p.MaxTaskAttempts = cfg.Retry.MaxTaskAttempts
	p.MergeRetryDelay = cfg.Retry.MergeRetryDelay
	p.LockTimeout = cfg.MergeLock.Timeout
	return p
}

func newLockTable(cfg *config.Config) *mergelock.Table {
	lc := mergelock.DefaultConfig()
	if cfg.MergeLock.ProgressInterval > 0 {
		lc.ProgressInterval = cfg.MergeLock.ProgressInterval
	}
	lc.StaleAfter = cfg.MergeLock.StaleAfter
	return mergelock.New(lc)
}
