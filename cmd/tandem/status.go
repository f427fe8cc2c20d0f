package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/graph"
	"github.com/ShayCichocki/tandem/internal/orchestrator"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/taskstore"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task progress and what each agent would pick next",
	Long: `Display the state of the task file.

Shows:
  - Task counts per status
  - Dependency layers, cycles and unresolved dependencies
  - The next tasks each configured agent may take
  - Tasks with failed attempts, when a state database exists`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tasks, err := taskstore.NewFileStore(cfg.Engine.TaskFile).Load()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	var failures map[string]int
	if dbPath := state.DBPath(cfg.Engine.StateDir); fileExists(dbPath) {
		db, err := state.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate state database: %w", err)
		}
		failures = countFailures(db, tasks)
	}

	printStatus(os.Stdout, cfg, tasks, failures)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// countFailures returns the failed attempts of every task that has any.
func countFailures(db state.AttemptStore, tasks []*models.Task) map[string]int {
	out := make(map[string]int)
	for _, node := range graph.BuildGraph(tasks).Nodes {
		n, err := db.CountFailures(node.ID)
		if err == nil && n > 0 {
			out[node.ID] = n
		}
	}
	return out
}

func printStatus(w io.Writer, cfg *config.Config, tasks []*models.Task, failures map[string]int) {
	g := graph.BuildGraph(tasks)
	layers := graph.ComputeLayers(g)

	fmt.Fprintf(w, "Task file: %s (%d tasks)\n\n", cfg.Engine.TaskFile, len(g.Nodes))

	fmt.Fprintln(w, "Status:")
	for _, s := range models.AllTaskStatuses() {
		fmt.Fprintf(w, "  %-20s %d\n", s, g.StatusCounts[s])
	}

	byLayer := graph.ByLayer(layers)
	fmt.Fprintf(w, "\nLayers: %d\n", len(byLayer))
	if cycle := graph.Unlayered(g, layers); len(cycle) > 0 {
		fmt.Fprintf(w, "%s %s\n", color.RedString("Cycles (never scheduled):"), strings.Join(cycle, ", "))
	}
	if len(g.Unresolved) > 0 {
		fmt.Fprintln(w, color.YellowString("Unresolved dependencies:"))
		for _, n := range g.Nodes {
			if missing, ok := g.Unresolved[n.ID]; ok {
				fmt.Fprintf(w, "  %s -> %s\n", n.ID, strings.Join(missing, ", "))
			}
		}
	}

	sel := orchestrator.Selector{AllowPendingMergeDeps: cfg.Engine.AllowPendingMergeDeps}
	fmt.Fprintln(w, "\nNext tasks:")
	for _, agent := range cfg.AgentIDs() {
		var ids []string
		for _, t := range sel.Candidates(tasks, agent) {
			ids = append(ids, t.ID)
		}
		next := "(none)"
		if len(ids) > 0 {
			next = strings.Join(ids, ", ")
		}
		fmt.Fprintf(w, "  %-10s %s\n", agent, next)
	}

	if len(failures) > 0 {
		fmt.Fprintln(w, "\nFailed attempts:")
		for _, n := range g.Nodes {
			if count, ok := failures[n.ID]; ok {
				fmt.Fprintf(w, "  %-10s %d (%s)\n", n.ID, count, n.Status)
			}
		}
	}
}
