package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

const storageScopeName = "github.com/astrotask/astrotask/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in astrotask.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged
// when telemetry is disabled.
type InstrumentedStorage struct {
	inner     storage.Storage
	tracer    trace.Tracer
	ops       metric.Int64Counter
	dur       metric.Float64Histogram
	errs      metric.Int64Counter
	taskGauge metric.Int64Gauge
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("astrotask.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("astrotask.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("astrotask.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	taskGauge, _ := m.Int64Gauge("astrotask.task.count",
		metric.WithDescription("Current number of tasks by status (snapshot from Statistics)"),
	)
	return &InstrumentedStorage{
		inner:     s,
		tracer:    Tracer(storageScopeName),
		ops:       ops,
		dur:       dur,
		errs:      errs,
		taskGauge: taskGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Task CRUD ───────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) AddTask(ctx context.Context, task *types.Task) error {
	attrs := []attribute.KeyValue{attribute.String("astrotask.task.status", string(task.Status))}
	ctx, span, t := s.op(ctx, "AddTask", attrs...)
	err := s.inner.AddTask(ctx, task)
	if err == nil {
		span.SetAttributes(attribute.String("astrotask.task.id", task.ID))
	}
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetTask(ctx context.Context, id string) (*types.Task, error) {
	attrs := []attribute.KeyValue{attribute.String("astrotask.task.id", id)}
	ctx, span, t := s.op(ctx, "GetTask", attrs...)
	v, err := s.inner.GetTask(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpdateTask(ctx context.Context, id string, updates map[string]interface{}) (*types.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.String("astrotask.task.id", id),
		attribute.Int("astrotask.update.count", len(updates)),
	}
	ctx, span, t := s.op(ctx, "UpdateTask", attrs...)
	v, err := s.inner.UpdateTask(ctx, id, updates)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpdateTaskStatus(ctx context.Context, id string, status types.Status) (*types.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.String("astrotask.task.id", id),
		attribute.String("astrotask.task.status", string(status)),
	}
	ctx, span, t := s.op(ctx, "UpdateTaskStatus", attrs...)
	v, err := s.inner.UpdateTaskStatus(ctx, id, status)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) DeleteTask(ctx context.Context, id string) (bool, error) {
	attrs := []attribute.KeyValue{attribute.String("astrotask.task.id", id)}
	ctx, span, t := s.op(ctx, "DeleteTask", attrs...)
	v, err := s.inner.DeleteTask(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListTasks(ctx context.Context, filter types.ListFilter) ([]*types.Task, error) {
	ctx, span, t := s.op(ctx, "ListTasks")
	v, err := s.inner.ListTasks(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("astrotask.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

// ── Dependencies ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) AddTaskDependency(ctx context.Context, dependentID, dependencyID string) (*types.TaskDependency, error) {
	attrs := []attribute.KeyValue{
		attribute.String("astrotask.dep.from", dependentID),
		attribute.String("astrotask.dep.to", dependencyID),
	}
	ctx, span, t := s.op(ctx, "AddTaskDependency", attrs...)
	v, err := s.inner.AddTaskDependency(ctx, dependentID, dependencyID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) RemoveTaskDependency(ctx context.Context, dependentID, dependencyID string) (bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("astrotask.dep.from", dependentID),
		attribute.String("astrotask.dep.to", dependencyID),
	}
	ctx, span, t := s.op(ctx, "RemoveTaskDependency", attrs...)
	v, err := s.inner.RemoveTaskDependency(ctx, dependentID, dependencyID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListTaskDependencies(ctx context.Context) ([]*types.TaskDependency, error) {
	ctx, span, t := s.op(ctx, "ListTaskDependencies")
	v, err := s.inner.ListTaskDependencies(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("astrotask.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

// ── Context slices ──────────────────────────────────────────────────────────

func (s *InstrumentedStorage) AddContextSlice(ctx context.Context, slice *types.ContextSlice) error {
	attrs := []attribute.KeyValue{
		attribute.String("astrotask.task.id", slice.TaskID),
		attribute.String("astrotask.slice.type", slice.ContextType),
	}
	ctx, span, t := s.op(ctx, "AddContextSlice", attrs...)
	err := s.inner.AddContextSlice(ctx, slice)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ListContextSlices(ctx context.Context, taskID string) ([]*types.ContextSlice, error) {
	attrs := []attribute.KeyValue{attribute.String("astrotask.task.id", taskID)}
	ctx, span, t := s.op(ctx, "ListContextSlices", attrs...)
	v, err := s.inner.ListContextSlices(ctx, taskID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Reconciliation ──────────────────────────────────────────────────────────

func (s *InstrumentedStorage) ExecuteTreeOperations(ctx context.Context, plan *types.TreeReconciliationPlan) (*types.TreeData, types.IDMapping, error) {
	attrs := []attribute.KeyValue{
		attribute.String("astrotask.plan.root", plan.RootID),
		attribute.Int("astrotask.plan.ops", len(plan.Operations)),
	}
	ctx, span, t := s.op(ctx, "ExecuteTreeOperations", attrs...)
	tree, mapping, err := s.inner.ExecuteTreeOperations(ctx, plan)
	if err == nil {
		span.SetAttributes(attribute.Int("astrotask.plan.minted", len(mapping)))
	}
	s.done(ctx, span, t, err, attrs...)
	return tree, mapping, err
}

func (s *InstrumentedStorage) ApplyGraphOperations(ctx context.Context, plan *types.GraphReconciliationPlan) ([]*types.TaskDependency, error) {
	attrs := []attribute.KeyValue{
		attribute.String("astrotask.plan.graph", plan.GraphID),
		attribute.Int("astrotask.plan.ops", len(plan.Operations)),
	}
	ctx, span, t := s.op(ctx, "ApplyGraphOperations", attrs...)
	v, err := s.inner.ApplyGraphOperations(ctx, plan)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Statistics ───────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Statistics(ctx context.Context) (*types.Statistics, error) {
	ctx, span, t := s.op(ctx, "Statistics")
	v, err := s.inner.Statistics(ctx)
	s.done(ctx, span, t, err)
	if err == nil && v != nil {
		// Record current task counts as gauge snapshots, broken down by status.
		statusAttr := func(status string) metric.MeasurementOption {
			return metric.WithAttributes(attribute.String("status", status))
		}
		s.taskGauge.Record(ctx, int64(v.PendingTasks), statusAttr("pending"))
		s.taskGauge.Record(ctx, int64(v.InProgressTasks), statusAttr("in-progress"))
		s.taskGauge.Record(ctx, int64(v.DoneTasks), statusAttr("done"))
		s.taskGauge.Record(ctx, int64(v.CancelledTasks), statusAttr("cancelled"))
		s.taskGauge.Record(ctx, int64(v.ArchivedTasks), statusAttr("archived"))
	}
	return v, err
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Path() string {
	return s.inner.Path()
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
