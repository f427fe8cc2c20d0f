package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Show the configuration tandem would run with.

Without arguments, displays every setting and the files it was read from.
With one argument (key), displays the value for that key.

User configuration lives at ~/.config/tandem/config.yaml.
Project-specific overrides can be placed in .tandem.yaml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if len(args) == 0 {
			displayAllConfig(os.Stdout, cfg)
			return nil
		}
		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

// configKeys lists the keys shown by displayAllConfig, in order.
var configKeys = []string{
	"engine.task_file",
	"engine.state_dir",
	"engine.worktree_root",
	"engine.poll_interval",
	"engine.allow_pending_merge_deps",
	"engine.default_repo",
	"engine.kill_timeout",
	"agents",
	"repos",
	"retry.max_commit_attempts",
	"retry.max_conflict_attempts",
	"retry.max_task_attempts",
	"retry.merge_retry_delay",
	"merge_lock.timeout",
	"merge_lock.progress_interval",
	"merge_lock.stale_after",
	"agent.command",
	"agent.model",
	"agent.api_key",
	"sandbox.enabled",
	"metrics.addr",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(w io.Writer, cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Fprintf(w, "%s: %s\n", key, value)
	}
	for _, name := range cfg.RepoNames() {
		r := cfg.Repos[name]
		fmt.Fprintf(w, "repos.%s: %s (default branch %q, remote %q)\n", name, r.Path, r.DefaultBranch, r.Remote)
	}
	if len(cfg.Sources) == 0 {
		fmt.Fprintln(w, "\nNo config files found; using defaults.")
		return
	}
	fmt.Fprintln(w, "\nRead from:")
	for _, s := range cfg.Sources {
		fmt.Fprintf(w, "  %s\n", s)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "engine.task_file":
		return cfg.Engine.TaskFile, nil
	case "engine.state_dir":
		return cfg.Engine.StateDir, nil
	case "engine.worktree_root":
		return cfg.Engine.WorktreeRoot, nil
	case "engine.poll_interval":
		return cfg.Engine.PollInterval.String(), nil
	case "engine.allow_pending_merge_deps":
		return strconv.FormatBool(cfg.Engine.AllowPendingMergeDeps), nil
	case "engine.default_repo":
		return cfg.Engine.DefaultRepo, nil
	case "engine.kill_timeout":
		return cfg.Engine.KillTimeout.String(), nil
	case "agents":
		return strings.Join(cfg.AgentIDs(), ", "), nil
	case "repos":
		return strings.Join(cfg.RepoNames(), ", "), nil
	case "retry.max_commit_attempts":
		return strconv.Itoa(cfg.Retry.MaxCommitAttempts), nil
	case "retry.max_conflict_attempts":
		return strconv.Itoa(cfg.Retry.MaxConflictAttempts), nil
	case "retry.max_task_attempts":
		return strconv.Itoa(cfg.Retry.MaxTaskAttempts), nil
	case "retry.merge_retry_delay":
		return cfg.Retry.MergeRetryDelay.String(), nil
	case "merge_lock.timeout":
		return cfg.MergeLock.Timeout.String(), nil
	case "merge_lock.progress_interval":
		return cfg.MergeLock.ProgressInterval.String(), nil
	case "merge_lock.stale_after":
		return cfg.MergeLock.StaleAfter.String(), nil
	case "agent.command":
		return cfg.Agent.Command, nil
	case "agent.model":
		return cfg.Agent.Model, nil
	case "agent.api_key":
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return "(not set)", nil
		}
		return fmt.Sprintf("%s (from %s)", config.MaskAPIKey(key), config.GetAPIKeySource(cfg)), nil
	case "sandbox.enabled":
		return strconv.FormatBool(cfg.Sandbox.Enabled), nil
	case "metrics.addr":
		return cfg.Metrics.Addr, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}
