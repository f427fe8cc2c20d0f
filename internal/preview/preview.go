// Package preview serves a read-only JSON view of the task graph and merge
// locks, plus the Prometheus metrics endpoint when one is configured.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ShayCichocki/tandem/internal/graph"
	"github.com/ShayCichocki/tandem/internal/mergelock"
	"github.com/ShayCichocki/tandem/internal/taskstore"
)

// LockSource reports currently held merge locks.
type LockSource interface {
	Snapshot() []mergelock.LockInfo
}

// Context is everything the handlers read. It is built once at process start
// and passed to NewHandler; handlers keep no other state.
type Context struct {
	Store taskstore.Reader
	// Locks is nil when no engine runs in this process.
	Locks LockSource
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Now     func() time.Time
}

// GraphView is the /graph response.
type GraphView struct {
	*graph.TaskGraph
	Layers    map[string]int `json:"layers"`
	ByLayer   [][]string     `json:"by_layer"`
	Unlayered []string       `json:"unlayered"`
	LoadedAt  time.Time      `json:"loaded_at"`
}

// LocksView is the /locks response.
type LocksView struct {
	Locks []mergelock.LockInfo `json:"locks"`
	// Available is false when this process has no lock table.
	Available bool `json:"available"`
}

// NewHandler builds the preview mux over c.
func NewHandler(c *Context) http.Handler {
	if c.Now == nil {
		c.Now = time.Now
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /graph", c.handleGraph)
	mux.HandleFunc("GET /locks", c.handleLocks)
	mux.HandleFunc("GET /healthz", c.handleHealth)
	if c.Metrics != nil {
		mux.Handle("GET /metrics", c.Metrics)
	}
	return mux
}

func (c *Context) handleGraph(w http.ResponseWriter, r *http.Request) {
	tasks, err := c.Store.Load()
	if err != nil {
		http.Error(w, "load tasks: "+err.Error(), http.StatusInternalServerError)
		return
	}

	g := graph.BuildGraph(tasks)
	layers := graph.ComputeLayers(g)
	writeJSON(w, GraphView{
		TaskGraph: g,
		Layers:    layers,
		ByLayer:   graph.ByLayer(layers),
		Unlayered: graph.Unlayered(g, layers),
		LoadedAt:  c.Now(),
	})
}

func (c *Context) handleLocks(w http.ResponseWriter, r *http.Request) {
	view := LocksView{Locks: []mergelock.LockInfo{}}
	if c.Locks != nil {
		view.Available = true
		if held := c.Locks.Snapshot(); held != nil {
			view.Locks = held
		}
	}
	writeJSON(w, view)
}

func (c *Context) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Serve listens on addr and serves h until ctx is done.
// The returned address is the one actually bound, useful with port 0.
func Serve(ctx context.Context, addr string, h http.Handler) (string, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr().String(), done, nil
}
