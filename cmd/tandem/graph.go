package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/graph"
	"github.com/ShayCichocki/tandem/internal/preview"
	"github.com/ShayCichocki/tandem/internal/taskstore"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var (
	graphJSON  bool
	graphServe string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the task dependency graph by layer",
	Long: `Print the task graph grouped by dependency layer.

Layer 0 holds tasks with no dependencies; every other task sits one layer
above its deepest dependency. Tasks on a dependency cycle are listed apart.

With --serve, serve the graph (/graph), held merge locks (/locks) and a
health check (/healthz) over HTTP until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().BoolVar(&graphJSON, "json", false, "Print the graph as JSON")
	graphCmd.Flags().StringVar(&graphServe, "serve", "", "Serve the graph preview on this address, e.g. :8080")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := taskstore.NewFileStore(cfg.Engine.TaskFile)

	if graphServe != "" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		addr, done, err := preview.Serve(ctx, graphServe, preview.NewHandler(&preview.Context{Store: store}))
		if err != nil {
			return err
		}
		fmt.Printf("Serving graph preview on http://%s/graph\n", addr)
		return <-done
	}

	tasks, err := store.Load()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if graphJSON {
		return writeGraphJSON(os.Stdout, tasks)
	}
	printGraph(os.Stdout, tasks)
	return nil
}

func graphView(tasks []*models.Task) preview.GraphView {
	g := graph.BuildGraph(tasks)
	layers := graph.ComputeLayers(g)
	return preview.GraphView{
		TaskGraph: g,
		Layers:    layers,
		ByLayer:   graph.ByLayer(layers),
		Unlayered: graph.Unlayered(g, layers),
		LoadedAt:  time.Now(),
	}
}

func writeGraphJSON(w io.Writer, tasks []*models.Task) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(graphView(tasks))
}

func printGraph(w io.Writer, tasks []*models.Task) {
	view := graphView(tasks)
	nodes := make(map[string]graph.TaskNode, len(view.Nodes))
	for _, n := range view.Nodes {
		nodes[n.ID] = n
	}

	line := func(id string) {
		n := nodes[id]
		fmt.Fprintf(w, "  %-20s %-20s %s", n.ID, n.Status, n.Title)
		if deps := view.Dependencies(id); len(deps) > 0 {
			fmt.Fprintf(w, "  <- %v", deps)
		}
		fmt.Fprintln(w)
	}

	for i, ids := range view.ByLayer {
		fmt.Fprintf(w, "Layer %d:\n", i)
		for _, id := range ids {
			line(id)
		}
	}
	if len(view.Unlayered) > 0 {
		fmt.Fprintln(w, "On a dependency cycle:")
		for _, id := range view.Unlayered {
			line(id)
		}
	}
}
