// Package runtime wires components C1-C11 and the action catalog
// together into a single running bot runtime. Grounded on the teacher's
// cmd/at/main.go + internal/service wiring order (config load, then
// provider/client construction, then the long-lived agent loop): here
// the "provider" is the caller-supplied platform.Client and canvas.Renderer,
// and the "agent loop" is the scheduler/router/pipes started in Start.
package runtime

import (
	"context"
	"fmt"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/action/actions"
	"github.com/flowbotic/runtime/internal/canvas"
	"github.com/flowbotic/runtime/internal/config"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/event"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/flow"
	"github.com/flowbotic/runtime/internal/locale"
	"github.com/flowbotic/runtime/internal/metrics"
	"github.com/flowbotic/runtime/internal/pipe"
	"github.com/flowbotic/runtime/internal/platform"
	"github.com/flowbotic/runtime/internal/scheduler"
	"github.com/flowbotic/runtime/internal/spec"
	"github.com/flowbotic/runtime/internal/state"
	"github.com/flowbotic/runtime/internal/storage"
)

const (
	defaultEventMaxHandlers = 0 // let event.NewRouter pick its own default
	defaultFlowMaxDepth     = 0 // let flow.NewInvoker pick its own default
)

// Runtime owns every constructed component for one loaded specification
// document, and is the unit Start/Stop operate on.
type Runtime struct {
	Spec *spec.Document

	Evaluator *expr.Evaluator
	Storage   storage.Adapter
	State     *state.Manager

	Errors *errs.Handler

	ActionRegistry *action.Registry
	Executor       *action.Executor

	Flows  *flow.Registry
	Invoke *flow.Invoker

	Router    *event.Router
	Scheduler *scheduler.Scheduler
	Locale    *locale.Manager
	Metrics   *metrics.Collector

	Bindings *actions.Bindings
	Pipes    map[string]*pipe.Pipe
}

// New loads the specification document at cfg.SpecPath and constructs
// every component, wired together, but does not start anything that
// opens background goroutines (pipes, scheduler, timers) — call Start
// for that.
func New(ctx context.Context, cfg *config.Config, platformClient platform.Client, canvasRenderer canvas.Renderer) (*Runtime, error) {
	doc, err := spec.Load(cfg.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("load spec document: %w", err)
	}

	adapter, err := buildStorage(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("build storage adapter: %w", err)
	}

	stateMgr := state.NewManager(adapter, cfg.State.CacheTTL, cfg.State.CacheSize)
	if err := stateMgr.SetEncryptionKey(cfg.State.EncryptionKey); err != nil {
		return nil, fmt.Errorf("set state encryption key: %w", err)
	}
	if err := registerStateSchema(stateMgr, doc.State); err != nil {
		return nil, fmt.Errorf("register state schema: %w", err)
	}

	evaluator := expr.New()

	errSeverity, errBehavior := errorsConfigFrom(doc.Errors)
	errHandler := errs.NewHandler(errSeverity, errBehavior, nil)
	if len(doc.Errors.Categories) > 0 {
		cats := make([]errs.Category, len(doc.Errors.Categories))
		for i, c := range doc.Errors.Categories {
			cats[i] = errs.Category(c)
		}
		errHandler.SetCategoryFilter(cats...)
	}
	errHandler.SetEmitEvents(doc.Errors.EmitEvents)

	actionRegistry := action.NewRegistry()
	executor := action.NewExecutor(actionRegistry, evaluator, errHandler)
	executor.DefaultBatchConcurrency = cfg.Scheduler.BatchConcurrency

	flowRegistry := flow.NewRegistry()
	for _, f := range doc.Flows {
		flowRegistry.Register(f)
	}
	invoker := flow.NewInvoker(flowRegistry, executor, defaultFlowMaxDepth)

	router := event.NewRouter(executor, evaluator, errHandler, defaultEventMaxHandlers)
	errHandler.SetEmitter(router)
	for _, es := range doc.Events {
		if _, err := router.Register(es); err != nil {
			return nil, fmt.Errorf("register event %q: %w", es.Event, err)
		}
	}

	localeMgr := locale.NewManager(cfg.Locale.Default)
	for id, data := range doc.Locale {
		localeMgr.Load(id, locale.Data(data))
	}

	var metricsCollector *metrics.Collector
	if cfg.Metrics.Enabled {
		metricsCollector = metrics.New(0)
	}

	pipes, err := buildPipes(doc.Pipes, router, errHandler, cfg.Pipes)
	if err != nil {
		return nil, fmt.Errorf("build pipes: %w", err)
	}

	bindings := &actions.Bindings{
		Platform: platformClient,
		State:    stateMgr,
		Metrics:  metricsCollector,
		Router:   router,
		Canvas:   canvasRenderer,
		Pipes:    pipes,
	}
	bindings.RegisterActions(actionRegistry)

	sched := scheduler.New(router, errHandler)
	sched.RegisterActions(actionRegistry)
	for _, job := range doc.Scheduler {
		if job.Timezone == "" {
			job.Timezone = cfg.Scheduler.DefaultTimezone
		}
		sched.RegisterJob(job)
	}

	return &Runtime{
		Spec:           doc,
		Evaluator:      evaluator,
		Storage:        adapter,
		State:          stateMgr,
		Errors:         errHandler,
		ActionRegistry: actionRegistry,
		Executor:       executor,
		Flows:          flowRegistry,
		Invoke:         invoker,
		Router:         router,
		Scheduler:      sched,
		Locale:         localeMgr,
		Metrics:        metricsCollector,
		Bindings:       bindings,
		Pipes:          pipes,
	}, nil
}

// Start brings up every background-running component: the cron
// scheduler and every configured pipe's reconnect supervisor. Cancel ctx
// to stop them together, or call Stop for an explicit shutdown.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for name, p := range r.Pipes {
		_ = name
		p.Start(ctx)
	}
	return nil
}

// Stop shuts down the scheduler, every pipe, and the storage adapter, in
// that order (stop producing new work before releasing the thing it
// would have persisted to).
func (r *Runtime) Stop() error {
	r.Scheduler.Stop()
	for _, p := range r.Pipes {
		p.Stop()
	}
	return r.State.Close()
}

func registerStateSchema(mgr *state.Manager, schema spec.StateSchema) error {
	for _, v := range schema.Variables {
		mgr.RegisterVariable(state.SchemaFromSpec(v, str2duration.ParseDuration))
	}
	for _, t := range schema.Tables {
		def, err := tableDefinitionFromSpec(t)
		if err != nil {
			return err
		}
		if err := mgr.RegisterTable(t.Name, def); err != nil {
			return err
		}
	}
	return nil
}

func tableDefinitionFromSpec(t spec.TableDecl) (storage.TableDefinition, error) {
	def := storage.TableDefinition{CompositeIndexes: t.CompositeIndexes}
	for name, col := range t.Columns {
		def.Columns = append(def.Columns, storage.ColumnDefinition{
			Name:      name,
			Type:      storage.ColumnType(col.Type),
			Primary:   col.Primary,
			Nullable:  col.Nullable,
			Unique:    col.Unique,
			Index:     col.Index,
			Default:   col.Default,
			Encrypted: col.Encrypted,
		})
	}
	return def, nil
}

func errorsConfigFrom(cfg spec.ErrorsConfig) (errs.Severity, errs.DefaultBehavior) {
	severity := errs.SeverityWarn
	switch cfg.MinSeverity {
	case "debug":
		severity = errs.SeverityDebug
	case "info":
		severity = errs.SeverityInfo
	case "warn":
		severity = errs.SeverityWarn
	case "error":
		severity = errs.SeverityError
	case "fatal":
		severity = errs.SeverityFatal
	}

	behavior := errs.BehaviorLog
	switch cfg.Default {
	case "throw":
		behavior = errs.BehaviorThrow
	case "silent":
		behavior = errs.BehaviorSilent
	}
	return severity, behavior
}

func buildStorage(ctx context.Context, cfg config.State) (storage.Adapter, error) {
	switch {
	case cfg.Postgres != nil:
		return storage.NewPostgres(ctx, cfg.Postgres.Datasource)
	case cfg.SQLite != nil:
		return storage.NewSQLite(ctx, cfg.SQLite.Datasource)
	default:
		return storage.NewMemory(), nil
	}
}
