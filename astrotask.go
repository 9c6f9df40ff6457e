// Package astrotask is the embedding surface of the task engine. It bundles
// the store, configuration, and telemetry behind one Client and re-exports
// the types embedders need, so an MCP server, a TUI, or an orchestration
// script can depend on this package alone.
//
// The Client works on consistent snapshot pairs: a task tree (hierarchy,
// effective status) and a dependency graph (blocking edges). Mutations go
// through tracking overlays that buffer operations and flush them as atomic
// reconciliation plans.
package astrotask

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/astrotask/astrotask/internal/config"
	"github.com/astrotask/astrotask/internal/debug"
	"github.com/astrotask/astrotask/internal/depgraph"
	"github.com/astrotask/astrotask/internal/generator"
	"github.com/astrotask/astrotask/internal/lockfile"
	"github.com/astrotask/astrotask/internal/rpc"
	"github.com/astrotask/astrotask/internal/scheduler"
	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/storage/sqlite"
	"github.com/astrotask/astrotask/internal/tasktree"
	"github.com/astrotask/astrotask/internal/telemetry"
	"github.com/astrotask/astrotask/internal/tracking"
	"github.com/astrotask/astrotask/internal/types"
)

// Version is stamped into telemetry resources and CLI output.
const Version = "0.1.0"

// Core types for working with tasks.
type (
	Task           = types.Task
	TaskDependency = types.TaskDependency
	ContextSlice   = types.ContextSlice
	Status         = types.Status
	TaskFilter     = types.TaskFilter
	ListFilter     = types.ListFilter
	Statistics     = types.Statistics
	Config         = config.Config
)

// Status constants.
const (
	StatusPending    = types.StatusPending
	StatusInProgress = types.StatusInProgress
	StatusDone       = types.StatusDone
	StatusCancelled  = types.StatusCancelled
	StatusArchived   = types.StatusArchived
)

// ProjectRootID is the synthetic root every real task descends from.
const ProjectRootID = types.ProjectRootID

// Storage is the store interface, for embedders that bring their own.
type Storage = storage.Storage

// Client owns one open database and the derived views over it.
type Client struct {
	cfg   config.Config
	store storage.Storage
}

// Open loads configuration from the environment and opens the database it
// names.
func Open(ctx context.Context) (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return OpenWith(ctx, *cfg)
}

// OpenWith opens the database named by an explicit configuration.
// Construction fails with an error matching storage.ErrBusy when another
// live process holds the database lock.
func OpenWith(ctx context.Context, cfg Config) (*Client, error) {
	debug.SetVerbose(cfg.Verbose)
	if err := telemetry.Init(ctx, "astrotask", Version, telemetry.Options{
		Enabled:      cfg.Telemetry,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	uri := cfg.DatabaseURI
	if uri == "" {
		uri = config.DefaultDatabasePath()
	}
	store, err := sqlite.New(ctx, uri, sqlite.Options{Process: cfg.Process})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, store: telemetry.WrapStorage(store)}, nil
}

// Store exposes the raw storage interface for operations the Client does
// not wrap.
func (c *Client) Store() Storage { return c.store }

// Path returns the resolved database file path (empty for in-memory).
func (c *Client) Path() string { return c.store.Path() }

// Close flushes and releases the database and the advisory lock.
func (c *Client) Close(ctx context.Context) error {
	err := c.store.Close()
	telemetry.Shutdown(ctx)
	return err
}

// ForceUnlock removes the advisory lock next to a database file without
// opening it. Returns the evicted holder, or nil when no lock existed.
// Only for operator recovery after a crash leaves a stale lock behind.
func ForceUnlock(dbPath string) (*lockfile.Holder, error) {
	return lockfile.ForceUnlock(dbPath)
}

// Snapshot loads a consistent tree/graph snapshot pair.
func (c *Client) Snapshot(ctx context.Context) (*tasktree.Tree, *depgraph.Graph, error) {
	var (
		tasks []*types.Task
		deps  []*types.TaskDependency
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = c.store.ListTasks(gctx, types.ListFilter{IncludeProjectRoot: true})
		return err
	})
	g.Go(func() error {
		var err error
		deps, err = c.store.ListTaskDependencies(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	tree, ok := tasktree.Build(types.ProjectRootID, tasks)
	if !ok {
		return nil, nil, fmt.Errorf("%w: project root missing", storage.ErrStorage)
	}
	return tree, depgraph.New(tasks, deps), nil
}

// TrackingTree returns a fresh mutation overlay over the current tree.
// Overlays are single-owner; make one per editor.
func (c *Client) TrackingTree(ctx context.Context) (*tracking.TreeOverlay, error) {
	tree, _, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return tracking.NewTreeOverlay(tree), nil
}

// TrackingGraph returns a fresh mutation overlay over the current edge set.
func (c *Client) TrackingGraph(ctx context.Context) (*tracking.GraphOverlay, error) {
	deps, err := c.store.ListTaskDependencies(ctx)
	if err != nil {
		return nil, err
	}
	return tracking.NewGraphOverlay(deps), nil
}

// Scheduler builds a scheduler over the current snapshot.
func (c *Client) Scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	tree, graph, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.New(tree, graph), nil
}

// NextTask returns the highest-ranked available task, or nil.
func (c *Client) NextTask(ctx context.Context, filter TaskFilter) (*Task, error) {
	sched, err := c.Scheduler(ctx)
	if err != nil {
		return nil, err
	}
	return sched.NextTask(filter), nil
}

// StartWork moves a task to in-progress after the availability guards
// pass; force skips the guards for tasks that exist and are not done.
func (c *Client) StartWork(ctx context.Context, id string, force bool) (*Task, error) {
	sched, err := c.Scheduler(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := sched.PlanStart(id, force)
	if err != nil {
		return nil, err
	}
	if err := c.applyChanges(ctx, plan.Changes); err != nil {
		return nil, err
	}
	return c.store.GetTask(ctx, id)
}

// CompletionResult is what CompleteTask reports back.
type CompletionResult struct {
	Task      *Task   `json:"task"`
	Unblocked []*Task `json:"unblocked,omitempty"`
	NextTask  *Task   `json:"nextTask,omitempty"`
}

// CompleteTask marks a task done (cascade: its whole subtree), applies the
// writes atomically, and reports which dependents are now unblocked. When
// the scheduler picks a next task it is moved to in-progress in the same
// batch and reported in NextTask.
func (c *Client) CompleteTask(ctx context.Context, id string, cascade bool) (*CompletionResult, error) {
	sched, err := c.Scheduler(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := sched.PlanCompletion(id, cascade)
	if err != nil {
		return nil, err
	}
	if err := c.applyChanges(ctx, plan.Changes); err != nil {
		return nil, err
	}
	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CompletionResult{Task: task, Unblocked: plan.Unblocked, NextTask: plan.NextTask}, nil
}

// applyChanges lands a plan's status writes in one reconciliation plan, so
// cascades are all-or-nothing.
func (c *Client) applyChanges(ctx context.Context, changes []scheduler.StatusChange) error {
	if len(changes) == 0 {
		return nil
	}
	if len(changes) == 1 {
		_, err := c.store.UpdateTaskStatus(ctx, changes[0].TaskID, changes[0].Status)
		return err
	}

	overlay, err := c.TrackingTree(ctx)
	if err != nil {
		return err
	}
	for _, change := range changes {
		overlay, err = overlay.UpdateStatus(change.TaskID, change.Status)
		if err != nil {
			return err
		}
	}
	_, _, err = overlay.Flush(ctx, c.store)
	return err
}

// Generate runs a task generator and commits its output: tree flush first
// to mint real IDs, then the dependency edges with endpoints remapped.
func (c *Client) Generate(ctx context.Context, gen generator.TaskGenerator, input generator.GenerateInput) (types.IDMapping, error) {
	if input.Context == nil {
		input.Context = &generator.GenerateContext{}
	}
	if input.Context.ExistingTasks == nil {
		tasks, err := c.store.ListTasks(ctx, types.ListFilter{IncludeProjectRoot: true})
		if err != nil {
			return nil, err
		}
		input.Context.ExistingTasks = tasks
	}
	res, err := gen.Generate(ctx, input)
	if err != nil {
		return nil, err
	}
	return generator.Commit(ctx, c.store, res)
}

// Handler returns the RPC tool surface bound to this client's store, for
// an external MCP transport.
func (c *Client) Handler() *rpc.Handler {
	return rpc.NewHandler(c.store)
}

// Statistics reports store-wide counts.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	return c.store.Statistics(ctx)
}
