// Package config handles configuration loading and management for tandem.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/tandem/internal/errors"
)

// ProjectConfigName is the project-level config file searched for upwards from the working directory.
const ProjectConfigName = ".tandem.yaml"

// EnvPrefix prefixes environment overrides, e.g. TANDEM_ENGINE_POLL_INTERVAL.
const EnvPrefix = "TANDEM"

// Config holds all configuration for tandem.
type Config struct {
	Engine    EngineConfig          `mapstructure:"engine"`
	Agents    []string              `mapstructure:"agents"`
	Repos     map[string]RepoConfig `mapstructure:"repos"`
	Retry     RetryConfig           `mapstructure:"retry"`
	MergeLock MergeLockConfig       `mapstructure:"merge_lock"`
	Agent     AgentConfig           `mapstructure:"agent"`
	Sandbox   SandboxConfig         `mapstructure:"sandbox"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`

	// Sources lists the config files that were read, lowest precedence first.
	Sources []string `mapstructure:"-"`
}

// EngineConfig holds engine-wide settings.
type EngineConfig struct {
	// TaskFile is the YAML task file the loops work from.
	TaskFile string `mapstructure:"task_file"`
	// StateDir holds the state database and debug log.
	StateDir string `mapstructure:"state_dir"`
	// WorktreeRoot is where per-branch worktrees are created.
	WorktreeRoot string `mapstructure:"worktree_root"`
	// PollInterval is how long an idle loop sleeps before looking again.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// AllowPendingMergeDeps treats done_pending_merge dependencies as satisfied.
	AllowPendingMergeDeps bool `mapstructure:"allow_pending_merge_deps"`
	// DefaultRepo is used for tasks that name no repo.
	DefaultRepo string `mapstructure:"default_repo"`
	// CleanupParallelism bounds concurrent worktree removals.
	CleanupParallelism int `mapstructure:"cleanup_parallelism"`
	// KillTimeout is how long shutdown waits for in-flight tasks before killing agents.
	KillTimeout time.Duration `mapstructure:"kill_timeout"`
}

// RepoConfig describes one repository the engine may create worktrees for.
type RepoConfig struct {
	Path          string `mapstructure:"path"`
	DefaultBranch string `mapstructure:"default_branch"`
	Remote        string `mapstructure:"remote"`
}

// RetryConfig bounds the retry loops of the work loop.
type RetryConfig struct {
	MaxCommitAttempts   int           `mapstructure:"max_commit_attempts"`
	MaxConflictAttempts int           `mapstructure:"max_conflict_attempts"`
	MaxTaskAttempts     int           `mapstructure:"max_task_attempts"`
	MergeRetryDelay     time.Duration `mapstructure:"merge_retry_delay"`
}

// MergeLockConfig holds merge lock timings.
type MergeLockConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	// StaleAfter lets a waiter take over a lock held longer than this; 0 disables.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// AgentConfig configures the agent CLI.
type AgentConfig struct {
	Command      string   `mapstructure:"command"`
	Model        string   `mapstructure:"model"`
	AllowedTools []string `mapstructure:"allowed_tools"`
	ExtraArgs    []string `mapstructure:"extra_args"`
	// APIKey may reference environment variables as ${VAR}.
	APIKey string `mapstructure:"api_key"`
}

// SandboxConfig configures policy-wrapped process execution.
type SandboxConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Wrapper is the argv template; see exec.PolicyRunner.
	Wrapper []string `mapstructure:"wrapper"`
}

// MetricsConfig configures the metrics and preview listener.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the listener.
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TANDEM_*, ANTHROPIC_API_KEY for agent.api_key)
// 2. Project config (.tandem.yaml in current directory or parent)
// 3. User config (~/.config/tandem/config.yaml)
// 4. Built-in defaults
//
// Relative paths in the result are resolved against the project config's
// directory, or the working directory when there is no project config.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var sources []string

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	} else {
		sources = append(sources, v.ConfigFileUsed())
	}

	base, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		// Merge project config (takes precedence)
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
		sources = append(sources, projectConfig)
		base = filepath.Dir(projectConfig)
	}

	cfg, err := decode(v, base)
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, skipping the search.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := decode(v, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	cfg.Sources = []string{abs}
	return cfg, nil
}

func decode(v *viper.Viper, base string) (*Config, error) {
	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("agent.api_key", EnvPrefix+"_AGENT_API_KEY", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Agent.APIKey = expandEnv(cfg.Agent.APIKey)
	cfg.resolvePaths(base)
	return cfg, nil
}

// resolvePaths makes every configured path absolute.
func (c *Config) resolvePaths(base string) {
	c.Engine.TaskFile = resolvePath(base, c.Engine.TaskFile)
	c.Engine.StateDir = resolvePath(base, c.Engine.StateDir)
	c.Engine.WorktreeRoot = resolvePath(base, c.Engine.WorktreeRoot)
	for name, repo := range c.Repos {
		repo.Path = resolvePath(base, repo.Path)
		c.Repos[name] = repo
	}
}

func resolvePath(base, p string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// Validate reports the first setting that would stop the engine from running.
func (c *Config) Validate() error {
	if len(c.AgentIDs()) == 0 {
		return errors.NewConfigurationError("agents", "at least one agent id is required")
	}
	if c.Engine.TaskFile == "" {
		return errors.NewConfigurationError("engine.task_file", "a task file is required")
	}
	if c.Engine.StateDir == "" {
		return errors.NewConfigurationError("engine.state_dir", "a state directory is required")
	}
	if c.Engine.WorktreeRoot == "" {
		return errors.NewConfigurationError("engine.worktree_root", "a worktree root is required")
	}
	if c.Engine.PollInterval <= 0 {
		return errors.NewConfigurationError("engine.poll_interval", "must be positive")
	}
	for _, name := range c.RepoNames() {
		if c.Repos[name].Path == "" {
			return errors.NewConfigurationError("repos."+name+".path", "repository path is required")
		}
	}
	if c.Retry.MaxCommitAttempts < 1 {
		return errors.NewConfigurationError("retry.max_commit_attempts", "must be at least 1")
	}
	if c.Retry.MaxConflictAttempts < 0 {
		return errors.NewConfigurationError("retry.max_conflict_attempts", "must not be negative")
	}
	if c.Retry.MaxTaskAttempts < 1 {
		return errors.NewConfigurationError("retry.max_task_attempts", "must be at least 1")
	}
	if c.MergeLock.Timeout < 0 {
		return errors.NewConfigurationError("merge_lock.timeout", "must not be negative")
	}
	if c.Sandbox.Enabled && len(c.Sandbox.Wrapper) == 0 {
		return errors.NewConfigurationError("sandbox.wrapper", "required when the sandbox is enabled")
	}
	if c.Agent.APIKey != "" {
		if err := ValidateAPIKey(c.Agent.APIKey); err != nil {
			return errors.NewConfigurationError("agent.api_key", err.Error())
		}
	}
	return nil
}

// AgentIDs returns the configured agent identities, sorted and de-duplicated.
func (c *Config) AgentIDs() []string {
	seen := make(map[string]bool, len(c.Agents))
	var ids []string
	for _, id := range c.Agents {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RepoNames returns the configured repository names, sorted.
// Names are lowercase because viper folds map keys.
func (c *Config) RepoNames() []string {
	names := make([]string, 0, len(c.Repos))
	for name := range c.Repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DebugLogPath returns where the engine's debug log is written.
func (c *Config) DebugLogPath() string {
	return filepath.Join(c.Engine.StateDir, "logs", "tandem-debug.log")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.task_file", "tasks.yaml")
	v.SetDefault("engine.state_dir", ".tandem")
	v.SetDefault("engine.worktree_root", ".tandem/worktrees")
	v.SetDefault("engine.poll_interval", "10s")
	v.SetDefault("engine.allow_pending_merge_deps", false)
	v.SetDefault("engine.default_repo", "")
	v.SetDefault("engine.cleanup_parallelism", 4)
	v.SetDefault("engine.kill_timeout", "30s")

	v.SetDefault("agents", []string{})
	v.SetDefault("repos", map[string]any{})

	// Retry defaults
	v.SetDefault("retry.max_commit_attempts", 3)
	v.SetDefault("retry.max_conflict_attempts", 2)
	v.SetDefault("retry.max_task_attempts", 3)
	v.SetDefault("retry.merge_retry_delay", "1m")

	// Merge lock defaults
	v.SetDefault("merge_lock.timeout", "10m")
	v.SetDefault("merge_lock.progress_interval", "5s")
	v.SetDefault("merge_lock.stale_after", "0s")

	// Agent defaults
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.allowed_tools", []string{})
	v.SetDefault("agent.extra_args", []string{})
	v.SetDefault("agent.api_key", "")

	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.wrapper", []string{})

	v.SetDefault("metrics.addr", "")
}

// getUserConfigDir returns the XDG config directory for tandem.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tandem")
	}

	// Fall back to ~/.config/tandem
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "tandem")
	}
	return filepath.Join(home, ".config", "tandem")
}

// findProjectConfig searches for .tandem.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values and no agents or repos.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			TaskFile:           "tasks.yaml",
			StateDir:           ".tandem",
			WorktreeRoot:       ".tandem/worktrees",
			PollInterval:       10 * time.Second,
			CleanupParallelism: 4,
			KillTimeout:        30 * time.Second,
		},
		Repos: map[string]RepoConfig{},
		Retry: RetryConfig{
			MaxCommitAttempts:   3,
			MaxConflictAttempts: 2,
			MaxTaskAttempts:     3,
			MergeRetryDelay:     time.Minute,
		},
		MergeLock: MergeLockConfig{
			Timeout:          10 * time.Minute,
			ProgressInterval: 5 * time.Second,
		},
		Agent: AgentConfig{
			Command: "claude",
		},
	}
}
