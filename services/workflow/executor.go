package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/stupidking717/kerdar-sub000/pkg/log"
)

const DefaultNodeTimeout = 60 * time.Second

// Options control a single run.
type Options struct {
	Mode        Mode
	ExecutionID string
	// StartNodeID overrides start node discovery.
	StartNodeID string
	// InputData is fed to every start node. Defaults to one empty item.
	InputData   []ExecutionItem
	StopOnError bool
	NodeTimeout time.Duration
	// MaxConcurrency bounds in-flight execute calls. Values up to 1 run
	// branches sequentially, depth-first.
	MaxConcurrency int
	// Env is exposed to expressions as $env.
	Env map[string]string
}

// Executor runs workflows against a node-type registry. It holds no
// per-run state and is safe for concurrent use.
type Executor struct {
	registry    Registry
	credentials CredentialStore
	hooks       Hooks
	httpClient  *http.Client
	limiter     *rate.Limiter
	tracer      trace.Tracer
	nodeTimeout time.Duration
	now         func() time.Time
}

type ExecutorOption func(*Executor)

func WithCredentialStore(store CredentialStore) ExecutorOption {
	return func(e *Executor) { e.credentials = store }
}

func WithHooks(h Hooks) ExecutorOption {
	return func(e *Executor) { e.hooks = h }
}

func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.httpClient = c }
}

// WithRateLimit throttles helper requests across all runs. Zero disables it.
func WithRateLimit(perSecond float64) ExecutorOption {
	return func(e *Executor) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) { e.tracer = tp.Tracer(tracerName) }
}

func WithDefaultNodeTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.nodeTimeout = d }
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor with the given registry.
func NewExecutor(registry Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		tracer:      defaultTracer(),
		nodeTimeout: DefaultNodeTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hooks.OnLog == nil {
		e.hooks.OnLog = slogEntry
	}
	return e
}

// run is the state of one Execute call.
type run struct {
	id          string
	mode        Mode
	workflow    *Workflow
	graph       *Graph
	opts        Options
	registry    Registry
	credentials CredentialStore
	hooks       Hooks
	httpClient  *http.Client
	limiter     *rate.Limiter
	tracer      trace.Tracer
	nodeTimeout time.Duration
	now         func() time.Time
	env         map[string]any
	state       *stateStore
	static      *staticDataStore
	sem         *semaphore.Weighted
	group       *errgroup.Group
}

func (e *Executor) newRun(wf *Workflow, g *Graph, opts Options) *run {
	r := &run{
		id:          opts.ExecutionID,
		mode:        opts.Mode,
		workflow:    wf,
		graph:       g,
		opts:        opts,
		registry:    e.registry,
		credentials: e.credentials,
		hooks:       e.hooks,
		httpClient:  e.httpClient,
		limiter:     e.limiter,
		tracer:      e.tracer,
		nodeTimeout: opts.NodeTimeout,
		now:         e.now,
		env:         make(map[string]any, len(opts.Env)),
		state:       newStateStore(wf.Nodes, e.now),
		static:      newStaticDataStore(wf.StaticData),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.mode == "" {
		r.mode = ModeManual
	}
	if r.nodeTimeout <= 0 {
		r.nodeTimeout = e.nodeTimeout
	}
	if r.opts.MaxConcurrency < 1 {
		r.opts.MaxConcurrency = 1
	}
	for k, v := range opts.Env {
		r.env[k] = v
	}
	r.sem = semaphore.NewWeighted(int64(r.opts.MaxConcurrency))
	return r
}

// Execute runs the workflow to completion. Graph validation failures return
// no record. When the run is aborted, by stopOnError or by ctx, the partial
// record is returned together with an error wrapping ErrRunAborted.
func (e *Executor) Execute(ctx context.Context, wf *Workflow, opts Options) (*ExecutionRecord, error) {
	g, err := NewGraph(wf)
	if err != nil {
		return nil, err
	}
	starts := g.FindStartNodes(opts.StartNodeID)
	if len(starts) == 0 {
		if opts.StartNodeID != "" {
			return nil, validationErrorf(opts.StartNodeID, "start node not found")
		}
		return nil, ErrNoStartNode
	}

	r := e.newRun(wf, g, opts)
	r.expectJoins(g.Reachable(starts))

	ctx, span := r.startRunSpan(ctx)
	defer span.End()

	input := opts.InputData
	if input == nil {
		input = []ExecutionItem{{JSON: map[string]any{}}}
	}

	startedAt := r.now()
	slog.Info("Workflow execution started",
		log.ExecutionID(r.id), log.WorkflowID(wf.ID), slog.Int("start_nodes", len(starts)))

	var runErr error
	if r.opts.MaxConcurrency > 1 {
		grp, gctx := errgroup.WithContext(ctx)
		r.group = grp
		for _, s := range starts {
			node, _ := g.Node(s.ID)
			grp.Go(func() error {
				return r.dispatch(gctx, node, [][]ExecutionItem{input})
			})
		}
		runErr = grp.Wait()
	} else {
		for _, s := range starts {
			node, _ := g.Node(s.ID)
			if runErr = r.dispatch(ctx, node, [][]ExecutionItem{input}); runErr != nil {
				break
			}
		}
	}

	rec := r.record(startedAt, runErr)
	slog.Info("Workflow execution finished",
		log.ExecutionID(r.id), log.WorkflowID(wf.ID), log.Status(rec.Status),
		slog.Duration("duration", rec.StoppedAt.Sub(rec.StartedAt)))

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return rec, fmt.Errorf("%w: %w", ErrRunAborted, runErr)
	}
	return rec, nil
}

func (r *run) record(startedAt time.Time, runErr error) *ExecutionRecord {
	rec := &ExecutionRecord{
		ID:         r.id,
		WorkflowID: r.workflow.ID,
		Mode:       r.mode,
		Status:     ExecutionSuccess,
		StartedAt:  startedAt,
		StoppedAt:  r.now(),
		Data: ExecutionData{ResultData: ResultData{
			RunData:          map[string]NodeRunData{},
			LastNodeExecuted: r.state.last(),
		}},
		StaticData: r.static.snapshot(),
	}
	for _, st := range r.state.snapshot() {
		nrd := NodeRunData{
			Status:    st.Status,
			Attempts:  st.Attempts,
			InputData: st.Input,
			Error:     st.Error,
		}
		if !st.StartedAt.IsZero() {
			nrd.StartTime = st.StartedAt.UnixMilli()
		}
		if !st.EndedAt.IsZero() {
			nrd.ExecutionTime = st.EndedAt.Sub(st.StartedAt).Milliseconds()
		}
		if st.Output != nil {
			nrd.Data = &NodeOutputData{Main: st.Output}
		}
		if st.Status == StatusError {
			rec.Status = ExecutionError
		}
		rec.Data.ResultData.RunData[st.NodeID] = nrd
	}
	if runErr != nil {
		rec.Status = ExecutionError
		rec.Data.ResultData.Error = newErrorInfo("", runErr)
	}
	return rec
}
