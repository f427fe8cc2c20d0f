package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupForce bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <repo> <target>",
	Short: "Remove worktrees whose branches are merged into target",
	Long: `Remove the worktrees (and branches) of a repository whose work is fully
merged into target, then prune stale worktree entries.

The main worktree, target and the repository's default branch are never
removed. Run this while no engine is working on the repository: worktrees in
use by a running engine are not known to this command.

Examples:
  tandem cleanup api main           # Confirm, then remove
  tandem cleanup api main --force   # Skip the confirmation prompt`,
	Args: cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return completeRepos(cmd, args, toComplete)
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	repo, target := args[0], args[1]
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cleanupForce {
		fmt.Printf("Remove worktrees of %s merged into %s? [y/N] ", repo, target)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	res, err := newCoordinator(cfg).CleanupMergedBranches(context.Background(), repo, target, nil)
	if err != nil {
		return err
	}

	if len(res.Deleted) == 0 {
		fmt.Println("No merged worktrees found.")
	}
	for _, b := range res.Deleted {
		fmt.Printf("%s %s\n", color.GreenString("removed"), b)
	}
	failed := make([]string, 0, len(res.Failed))
	for b := range res.Failed {
		failed = append(failed, b)
	}
	sort.Strings(failed)
	for _, b := range failed {
		fmt.Printf("%s %s: %s\n", color.RedString("kept"), b, res.Failed[b])
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d worktree(s) could not be removed", len(failed))
	}
	return nil
}
