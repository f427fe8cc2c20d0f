package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
)

// configPath overrides config discovery when set.
var configPath string

// CheckAgentCLI verifies that the agent CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckAgentCLI(command string) error {
	if command == "" {
		command = "claude"
	}
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("%s not found in PATH\n\n"+
			"tandem runs agents through the Claude Code CLI.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"or set agent.command to the binary to use", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Run coding agents concurrently over a shared task file",
	Long: `tandem runs one work loop per configured agent over a shared YAML task file.

Each loop picks the next task whose dependencies are done, runs the agent in
a dedicated git worktree, makes sure the work is committed, and merges it
into the target branch one agent at a time.

Configuration is read from ~/.config/tandem/config.yaml and from a
.tandem.yaml found in the current directory or any parent.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file to use instead of the discovered ones")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(worktreesCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config when given, otherwise the discovered files.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// completeRepos offers configured repository names.
func completeRepos(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return cfg.RepoNames(), cobra.ShellCompDirectiveNoFileComp
}

// completeAgents offers configured agent ids.
func completeAgents(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return cfg.AgentIDs(), cobra.ShellCompDirectiveNoFileComp
}
