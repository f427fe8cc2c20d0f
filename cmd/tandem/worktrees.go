package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var worktreesCmd = &cobra.Command{
	Use:               "worktrees <repo>",
	Short:             "List the git worktrees of a configured repository",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeRepos,
	RunE:              runWorktrees,
}

func runWorktrees(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	worktrees, err := newCoordinator(cfg).ListWorktrees(context.Background(), args[0])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BRANCH\tHEAD\tPATH")
	for _, wt := range worktrees {
		branch := wt.Branch
		switch {
		case wt.Bare:
			branch = "(bare)"
		case wt.Detached:
			branch = "(detached)"
		}
		head := wt.Head
		if len(head) > 12 {
			head = head[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", branch, head, wt.Path)
	}
	return tw.Flush()
}
