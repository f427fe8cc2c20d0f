package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/metrics"
	"github.com/ShayCichocki/tandem/internal/orchestrator"
	"github.com/ShayCichocki/tandem/internal/preview"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/taskstore"
)

var (
	runAgents      []string
	runKillTimeout time.Duration
	runMetricsAddr string
	runVerbose     bool
	runQuiet       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent work loops",
	Long: `Run one work loop per agent until interrupted.

Every loop polls the task file for the next task it may take, runs the agent
in the task's worktree, and merges the result into the target branch under
a per-branch merge lock.

Shutdown:
  The first SIGINT or SIGTERM stops loops from picking new tasks and lets
  running tasks finish. A second signal, or --kill-timeout elapsing, kills
  the running agents.

SIGUSR1 pauses and resumes picking new tasks.`,
	Args: cobra.NoArgs,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringSliceVar(&runAgents, "agent", nil, "Run only these agent ids (default: all configured agents)")
	runCmd.Flags().DurationVar(&runKillTimeout, "kill-timeout", 0, "Kill running agents this long after shutdown starts (default: engine.kill_timeout)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve metrics and the graph preview on this address (default: metrics.addr)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print every event, including status writes and idle polls")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Print no events; the debug log still records them")
	runCmd.RegisterFlagCompletionFunc("agent", completeAgents)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := selectAgents(cfg, runAgents); err != nil {
		return err
	}
	if cmd.Flags().Changed("kill-timeout") {
		cfg.Engine.KillTimeout = runKillTimeout
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Addr = runMetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := CheckAgentCLI(cfg.Agent.Command); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Engine.StateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	db, err := state.Open(state.DBPath(cfg.Engine.StateDir))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	logger, err := orchestrator.NewDebugLogger(cfg.DebugLogPath())
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := taskstore.NewFileStore(cfg.Engine.TaskFile)
	locks := newLockTable(cfg)
	reg, m := metrics.NewRegistry()

	engine := orchestrator.NewEngine(
		orchestrator.RequiredConfig{
			Agents: cfg.AgentIDs(),
			Store:  store,
			Git:    newCoordinator(cfg),
			Runner: newAgentRunner(cfg),
		},
		orchestrator.WithPolicy(policyFrom(cfg)),
		orchestrator.WithState(db),
		orchestrator.WithLocks(locks),
		orchestrator.WithLogger(logger),
		orchestrator.WithWake(watchTasks(ctx, store)),
	)

	bus := engine.Bus()
	bus.Subscribe(orchestrator.EventLog(logger))
	bus.Subscribe(m)
	if !runQuiet {
		bus.Subscribe(newConsole(os.Stdout, runVerbose).Handler())
	}

	engine.Pause().OnChange(func(paused bool) {
		if paused {
			color.Yellow("Paused: running tasks continue, no new tasks are picked")
		} else {
			color.Green("Resumed")
		}
	})

	if cfg.Metrics.Addr != "" {
		h := preview.NewHandler(&preview.Context{Store: store, Locks: locks, Metrics: metrics.HandlerFor(reg)})
		addr, serveErr, err := preview.Serve(ctx, cfg.Metrics.Addr, h)
		if err != nil {
			return err
		}
		fmt.Printf("Serving metrics and graph preview on http://%s\n", addr)
		go func() {
			if err := <-serveErr; err != nil {
				log.Printf("preview server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 2)
	sigs := []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	if pauseSignal != nil {
		sigs = append(sigs, pauseSignal)
	}
	signal.Notify(sigCh, sigs...)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go watchSignals(sigCh, done, cancel, engine, cfg.Engine.KillTimeout)

	fmt.Printf("Starting %d agent(s): %s\n", len(cfg.AgentIDs()), strings.Join(cfg.AgentIDs(), ", "))
	fmt.Printf("  Task file: %s\n", cfg.Engine.TaskFile)
	fmt.Printf("  Debug log: %s\n", cfg.DebugLogPath())
	fmt.Println()

	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	fmt.Println("All agents stopped.")
	return nil
}

// selectAgents narrows cfg.Agents to ids, which must all be configured.
func selectAgents(cfg *config.Config, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	known := make(map[string]bool)
	for _, id := range cfg.AgentIDs() {
		known[id] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("agent %q is not configured (known: %s)", id, strings.Join(cfg.AgentIDs(), ", "))
		}
	}
	cfg.Agents = ids
	return nil
}

// watchTasks wakes idle loops when the task file changes. Without a watcher
// the loops still poll.
func watchTasks(ctx context.Context, store *taskstore.FileStore) <-chan struct{} {
	changed, err := store.Watch(ctx)
	if err != nil {
		log.Printf("warning: not watching %s: %v", store.Path(), err)
		return nil
	}
	return changed
}

// watchSignals turns signals into pause toggles, a graceful stop, and a
// forced kill, until done is closed.
func watchSignals(sigCh <-chan os.Signal, done <-chan struct{}, stop func(), engine *orchestrator.Engine, killTimeout time.Duration) {
	var kill <-chan time.Time
	stopping := false
	for {
		select {
		case <-done:
			return
		case <-kill:
			fmt.Println("Kill timeout reached, killing running agents...")
			engine.Kill()
			kill = nil
		case sig := <-sigCh:
			if pauseSignal != nil && sig == pauseSignal {
				engine.Pause().Toggle()
				continue
			}
			if stopping {
				fmt.Println("\nKilling running agents...")
				engine.Kill()
				continue
			}
			stopping = true
			fmt.Println("\nShutting down: running tasks finish, signal again to kill them")
			stop()
			if killTimeout > 0 {
				kill = time.After(killTimeout)
			}
		}
	}
}
