package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func items(jsons ...map[string]any) []ExecutionItem {
	res := make([]ExecutionItem, len(jsons))
	for i, j := range jsons {
		res[i] = ExecutionItem{JSON: j}
	}
	return res
}

// emit returns a node type producing fixed output channels.
func emit(channels ...[]ExecutionItem) NodeType {
	return NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
		return channels, nil
	})
}

func failWith(err error) NodeType {
	return NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
		return nil, err
	})
}

type progressEvent struct {
	nodeID string
	status NodeStatus
}

type progressLog struct {
	mu     sync.Mutex
	events []progressEvent
}

func (p *progressLog) hook(nodeID string, status NodeStatus, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, progressEvent{nodeID, status})
}

func (p *progressLog) started() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []string
	for _, e := range p.events {
		if e.status == StatusRunning {
			res = append(res, e.nodeID)
		}
	}
	return res
}

func newTestExecutor(extra Registry, opts ...ExecutorOption) *Executor {
	opts = append([]ExecutorOption{WithHooks(Hooks{OnLog: func(LogEntry) {}})}, opts...)
	return NewExecutor(NewRegistry(extra), opts...)
}

func chain(ids ...string) []Edge {
	var res []Edge
	for i := 1; i < len(ids); i++ {
		res = append(res, Edge{ID: ids[i-1] + "-" + ids[i], Source: ids[i-1], Target: ids[i]})
	}
	return res
}

func runData(t *testing.T, rec *ExecutionRecord, id string) NodeRunData {
	t.Helper()
	rd, ok := rec.Data.ResultData.RunData[id]
	require.True(t, ok, "node %s missing from run data", id)
	return rd
}

func TestExecute_LinearPassthrough(t *testing.T) {
	out := items(map[string]any{"x": 1})
	exec := newTestExecutor(Registry{"source": emit(out)})
	wf := &Workflow{
		ID:    "wf",
		Nodes: []Node{{ID: "A", Type: "source"}, {ID: "B", Type: "noOp"}},
		Edges: chain("A", "B"),
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	assert.Equal(t, ExecutionSuccess, rec.Status)
	assert.Equal(t, ModeManual, rec.Mode)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "wf", rec.WorkflowID)
	assert.Len(t, rec.Data.ResultData.RunData, 2)

	a := runData(t, rec, "A")
	b := runData(t, rec, "B")
	assert.Equal(t, StatusSuccess, a.Status)
	assert.Equal(t, StatusSuccess, b.Status)
	assert.Equal(t, a.Data.Main, b.InputData)
	assert.Equal(t, [][]ExecutionItem{out}, b.Data.Main)
	assert.Equal(t, 1, b.Attempts)
	assert.Equal(t, "B", rec.Data.ResultData.LastNodeExecuted)
}

func TestExecute_BranchingRoutesChannels(t *testing.T) {
	exec := newTestExecutor(Registry{
		"fetch": emit(items(map[string]any{"n": 5}, map[string]any{"n": 7})),
	})
	wf := &Workflow{
		Nodes: []Node{
			{ID: "trigger", Type: "manualTrigger"},
			{ID: "fetch", Type: "fetch"},
			{ID: "filter", Type: "if", Parameters: map[string]any{
				"conditions": []any{map[string]any{
					"value1": "={{ $json.n }}", "operation": "greater_than", "value2": 1,
				}},
			}},
			{ID: "transform", Type: "set", Parameters: map[string]any{
				"values": map[string]any{"double": "={{ $json.n * 2 }}"},
			}},
			{ID: "discard", Type: "noOp"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "trigger", Target: "fetch"},
			{ID: "e2", Source: "fetch", Target: "filter"},
			{ID: "e3", Source: "filter", Target: "transform", SourceHandle: "output-0"},
			{ID: "e4", Source: "filter", Target: "discard", SourceHandle: "output-1"},
		},
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSuccess, rec.Status)

	filter := runData(t, rec, "filter")
	require.Len(t, filter.Data.Main, 2)
	assert.Len(t, filter.Data.Main[0], 2)
	assert.Empty(t, filter.Data.Main[1])

	assert.Equal(t, [][]ExecutionItem{{}}, runData(t, rec, "discard").InputData)

	transform := runData(t, rec, "transform")
	assert.Equal(t, filter.Data.Main[:1], transform.InputData)
	require.Len(t, transform.Data.Main[0], 2)
	assert.Equal(t, 10.0, transform.Data.Main[0][0].JSON["double"])
	assert.Equal(t, 14.0, transform.Data.Main[0][1].JSON["double"])
}

func TestExecute_MissingChannelIsEmpty(t *testing.T) {
	exec := newTestExecutor(Registry{"one": emit(items(map[string]any{"a": 1}))})
	wf := &Workflow{
		Nodes: []Node{{ID: "A", Type: "one"}, {ID: "B", Type: "noOp"}},
		Edges: []Edge{{ID: "e1", Source: "A", Target: "B", SourceHandle: "output-3"}},
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, runData(t, rec, "B").Status)
	assert.Equal(t, [][]ExecutionItem{{}}, runData(t, rec, "B").InputData)
}

func TestExecute_IndependentBranches(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run("concurrency", func(t *testing.T) {
			exec := newTestExecutor(Registry{"fail": failWith(errors.New("boom"))})
			wf := &Workflow{
				Nodes: []Node{
					{ID: "a1", Type: "noOp"}, {ID: "a2", Type: "fail"}, {ID: "a3", Type: "noOp"},
					{ID: "b1", Type: "noOp"}, {ID: "b2", Type: "noOp"}, {ID: "b3", Type: "noOp"},
				},
				Edges: append(chain("a1", "a2", "a3"), chain("b1", "b2", "b3")...),
			}

			rec, err := exec.Execute(context.Background(), wf, Options{MaxConcurrency: concurrency})
			require.NoError(t, err)

			assert.Equal(t, ExecutionError, rec.Status)
			assert.Equal(t, StatusSuccess, runData(t, rec, "a1").Status)
			assert.Equal(t, StatusError, runData(t, rec, "a2").Status)
			assert.Equal(t, StatusPending, runData(t, rec, "a3").Status)
			for _, id := range []string{"b1", "b2", "b3"} {
				assert.Equal(t, StatusSuccess, runData(t, rec, id).Status, id)
			}

			a2 := runData(t, rec, "a2")
			require.NotNil(t, a2.Error)
			assert.Equal(t, "NodeExecutionError", a2.Error.Name)
			assert.Contains(t, a2.Error.Message, "boom")
			assert.Nil(t, rec.Data.ResultData.Error)
		})
	}
}

func TestExecute_StopOnErrorAborts(t *testing.T) {
	exec := newTestExecutor(Registry{"fail": failWith(errors.New("boom"))})
	wf := &Workflow{
		Nodes: []Node{
			{ID: "a1", Type: "noOp"}, {ID: "a2", Type: "fail"}, {ID: "a3", Type: "noOp"},
			{ID: "b1", Type: "noOp"},
		},
		Edges: chain("a1", "a2", "a3"),
	}

	rec, err := exec.Execute(context.Background(), wf, Options{StopOnError: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunAborted)

	var ne *NodeExecutionError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "a2", ne.NodeID)

	require.NotNil(t, rec)
	assert.Equal(t, ExecutionError, rec.Status)
	assert.Equal(t, StatusPending, runData(t, rec, "a3").Status)
	assert.Equal(t, StatusPending, runData(t, rec, "b1").Status)
	require.NotNil(t, rec.Data.ResultData.Error)
	assert.Equal(t, "NodeExecutionError", rec.Data.ResultData.Error.Name)
}

func TestExecute_StopOnErrorCancelsSiblings(t *testing.T) {
	started := make(chan struct{})
	exec := newTestExecutor(Registry{
		"slow": NodeTypeFunc(func(ec *ExecutionContext) ([][]ExecutionItem, error) {
			close(started)
			<-ec.Context().Done()
			return nil, ec.Context().Err()
		}),
		"fail": NodeTypeFunc(func(ec *ExecutionContext) ([][]ExecutionItem, error) {
			<-started
			return nil, errors.New("boom")
		}),
	})
	wf := &Workflow{
		Nodes: []Node{{ID: "slow", Type: "slow"}, {ID: "after", Type: "noOp"}, {ID: "fail", Type: "fail"}},
		Edges: chain("slow", "after"),
	}

	rec, err := exec.Execute(context.Background(), wf,
		Options{StopOnError: true, MaxConcurrency: 2, NodeTimeout: 5 * time.Second})
	require.ErrorIs(t, err, ErrRunAborted)

	assert.Equal(t, StatusError, runData(t, rec, "fail").Status)
	assert.Equal(t, StatusError, runData(t, rec, "slow").Status)
	assert.Equal(t, StatusPending, runData(t, rec, "after").Status)
}

func TestExecute_DisabledNodeSkipped(t *testing.T) {
	var called atomic.Bool
	exec := newTestExecutor(Registry{
		"spy": NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
			called.Store(true)
			return nil, nil
		}),
	})
	progress := &progressLog{}
	exec.hooks.OnProgress = progress.hook

	wf := &Workflow{
		Nodes: []Node{
			{ID: "A", Type: "manualTrigger"},
			{ID: "B", Type: "spy", Disabled: true},
			{ID: "C", Type: "noOp"},
		},
		Edges: chain("A", "B", "C"),
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	assert.False(t, called.Load())
	assert.Equal(t, StatusSkipped, runData(t, rec, "B").Status)
	assert.Nil(t, runData(t, rec, "B").Data)
	assert.Equal(t, [][]ExecutionItem{{}}, runData(t, rec, "C").InputData)
	assert.Equal(t, StatusSuccess, runData(t, rec, "C").Status)
	assert.Contains(t, progress.events, progressEvent{"B", StatusSkipped})
	assert.NotContains(t, progress.events, progressEvent{"B", StatusRunning})
}

func TestExecute_UnknownNodeType(t *testing.T) {
	exec := newTestExecutor(nil)
	wf := &Workflow{
		Nodes: []Node{{ID: "A", Type: "mystery", ContinueOnFail: true}, {ID: "B", Type: "noOp"}},
		Edges: chain("A", "B"),
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	a := runData(t, rec, "A")
	assert.Equal(t, StatusError, a.Status)
	assert.Equal(t, "UnknownNodeTypeError", a.Error.Name)
	assert.Equal(t, 0, a.Attempts)
	assert.Equal(t, StatusPending, runData(t, rec, "B").Status)

	_, err = exec.Execute(context.Background(), wf, Options{StopOnError: true})
	var ue *UnknownNodeTypeError
	assert.ErrorAs(t, err, &ue)
}

func TestExecute_ContinueOnFail(t *testing.T) {
	exec := newTestExecutor(Registry{"fail": failWith(errors.New("upstream exploded"))})
	wf := &Workflow{
		Nodes: []Node{{ID: "A", Type: "fail", ContinueOnFail: true}, {ID: "B", Type: "noOp"}},
		Edges: chain("A", "B"),
	}

	rec, err := exec.Execute(context.Background(), wf, Options{StopOnError: true})
	require.NoError(t, err)

	assert.Equal(t, StatusError, runData(t, rec, "A").Status)
	assert.Equal(t, ExecutionError, rec.Status)

	b := runData(t, rec, "B")
	assert.Equal(t, StatusSuccess, b.Status)
	require.Len(t, b.InputData, 1)
	require.Len(t, b.InputData[0], 1)
	assert.Equal(t, map[string]any{
		"error": map[string]any{
			"message": "upstream exploded",
			"name":    "NodeExecutionError",
		},
	}, b.InputData[0][0].JSON)
}

func TestExecute_NodeTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	exec := newTestExecutor(Registry{
		"hang": NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
			<-block
			return nil, nil
		}),
	})
	wf := &Workflow{
		Nodes: []Node{{ID: "A", Type: "hang"}, {ID: "B", Type: "noOp"}},
		Edges: chain("A", "B"),
	}

	start := time.Now()
	rec, err := exec.Execute(context.Background(), wf, Options{NodeTimeout: 50 * time.Millisecond})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	a := runData(t, rec, "A")
	assert.Equal(t, StatusError, a.Status)
	assert.Equal(t, "TimeoutError", a.Error.Name)
	assert.Contains(t, a.Error.Message, "timed out")
	assert.Equal(t, StatusPending, runData(t, rec, "B").Status)
}

func TestExecute_Retry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		err          error
		maxTries     int
		wantStatus   NodeStatus
		wantAttempts int
	}{
		{"succeeds on third try", 2, errors.New("flaky"), 3, StatusSuccess, 3},
		{"exhausts tries", 5, errors.New("down"), 2, StatusError, 2},
		{"default max tries", 5, errors.New("down"), 0, StatusError, 3},
		{"validation not retried", 5, validationErrorf("A", "bad"), 3, StatusError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			exec := newTestExecutor(Registry{
				"flaky": NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
					if int(calls.Add(1)) <= tt.failures {
						return nil, tt.err
					}
					return [][]ExecutionItem{items(map[string]any{"ok": true})}, nil
				}),
			})
			wf := &Workflow{Nodes: []Node{{
				ID: "A", Type: "flaky",
				RetryOnFail: true, MaxTries: tt.maxTries, WaitBetweenTries: millis(1),
			}}}

			rec, err := exec.Execute(context.Background(), wf, Options{})
			require.NoError(t, err)

			a := runData(t, rec, "A")
			assert.Equal(t, tt.wantStatus, a.Status)
			assert.Equal(t, tt.wantAttempts, a.Attempts)
			assert.Equal(t, int32(tt.wantAttempts), calls.Load())
		})
	}
}

func TestExecute_RetryWaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := newTestExecutor(Registry{
		"fail": NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
			cancel()
			return nil, errors.New("down")
		}),
	})
	wf := &Workflow{Nodes: []Node{{
		ID: "A", Type: "fail", RetryOnFail: true, MaxTries: 5, WaitBetweenTries: millis(60_000),
	}}}

	start := time.Now()
	rec, err := exec.Execute(ctx, wf, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, runData(t, rec, "A").Attempts)
}

func TestExecute_JoinDispatchesOnce(t *testing.T) {
	var calls atomic.Int32
	exec := newTestExecutor(Registry{
		"left":  emit(items(map[string]any{"from": "left"})),
		"right": emit(items(map[string]any{"from": "right"})),
		"count": NodeTypeFunc(func(ec *ExecutionContext) ([][]ExecutionItem, error) {
			calls.Add(1)
			return [][]ExecutionItem{ec.GetInputData(0)}, nil
		}),
	})
	wf := &Workflow{
		Settings: Settings{ExecutionOrder: ExecutionOrderV0},
		Nodes: []Node{
			{ID: "root", Type: "manualTrigger"},
			{ID: "left", Type: "left"},
			{ID: "right", Type: "right"},
			{ID: "join", Type: "count"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "root", Target: "left"},
			{ID: "e2", Source: "root", Target: "right"},
			{ID: "e3", Source: "left", Target: "join"},
			{ID: "e4", Source: "right", Target: "join"},
		},
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t,
		[][]ExecutionItem{items(map[string]any{"from": "left"}, map[string]any{"from": "right"})},
		runData(t, rec, "join").InputData)
}

func TestExecute_JoinSeparateInputs(t *testing.T) {
	exec := newTestExecutor(Registry{
		"left":  emit(items(map[string]any{"from": "left"})),
		"right": emit(items(map[string]any{"from": "right"})),
	})
	wf := &Workflow{
		Nodes: []Node{
			{ID: "left", Type: "left"},
			{ID: "right", Type: "right"},
			{ID: "merge", Type: "noOp"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "left", Target: "merge", TargetHandle: "input-0"},
			{ID: "e2", Source: "right", Target: "merge", TargetHandle: "input-1"},
		},
	}

	rec, err := exec.Execute(context.Background(), wf, Options{MaxConcurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, [][]ExecutionItem{
		items(map[string]any{"from": "left"}),
		items(map[string]any{"from": "right"}),
	}, runData(t, rec, "merge").InputData)
}

func TestExecute_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := newTestExecutor(Registry{
		"block": NodeTypeFunc(func(ec *ExecutionContext) ([][]ExecutionItem, error) {
			cancel()
			<-ec.Context().Done()
			return nil, ec.Context().Err()
		}),
	})
	wf := &Workflow{
		Nodes: []Node{{ID: "A", Type: "block"}, {ID: "B", Type: "noOp"}, {ID: "C", Type: "noOp"}},
		Edges: chain("A", "B"),
	}

	rec, err := exec.Execute(ctx, wf, Options{})
	require.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StatusError, runData(t, rec, "A").Status)
	assert.Equal(t, "CancellationError", runData(t, rec, "A").Error.Name)
	assert.Equal(t, StatusPending, runData(t, rec, "B").Status)
	assert.Equal(t, StatusPending, runData(t, rec, "C").Status)
	assert.Equal(t, "CancellationError", rec.Data.ResultData.Error.Name)
}

func TestExecute_ConcurrencyBound(t *testing.T) {
	tests := []struct {
		name           string
		maxConcurrency int
		nodeTimeout    time.Duration
		ignoreCtx      bool
		wantMax        int32
		wantStatus     ExecutionStatus
	}{
		{"sequential", 1, 0, false, 1, ExecutionSuccess},
		{"bounded", 2, 0, false, 2, ExecutionSuccess},
		// timed out calls that keep running still count against the bound
		{"abandoned calls", 2, 20 * time.Millisecond, true, 2, ExecutionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inFlight, peak atomic.Int32
			exec := newTestExecutor(Registry{
				"work": NodeTypeFunc(func(ec *ExecutionContext) ([][]ExecutionItem, error) {
					n := inFlight.Add(1)
					defer inFlight.Add(-1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					if tt.ignoreCtx {
						time.Sleep(80 * time.Millisecond)
						return nil, nil
					}
					select {
					case <-time.After(20 * time.Millisecond):
					case <-ec.Context().Done():
					}
					return nil, nil
				}),
			})
			wf := &Workflow{}
			for _, id := range []string{"w1", "w2", "w3", "w4", "w5", "w6"} {
				wf.Nodes = append(wf.Nodes, Node{ID: id, Type: "work"})
			}

			rec, err := exec.Execute(context.Background(), wf, Options{
				MaxConcurrency: tt.maxConcurrency,
				NodeTimeout:    tt.nodeTimeout,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.LessOrEqual(t, peak.Load(), tt.wantMax)
			if tt.ignoreCtx {
				assert.Equal(t, "TimeoutError", runData(t, rec, "w6").Error.Name)
			}
		})
	}
}

func TestExecute_RetryWithoutWait(t *testing.T) {
	var calls atomic.Int32
	exec := newTestExecutor(Registry{"fail": NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})})
	wf := &Workflow{Nodes: []Node{{
		ID: "A", Type: "fail", RetryOnFail: true, MaxTries: 3, WaitBetweenTries: millis(0),
	}}}

	start := time.Now()
	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 3, runData(t, rec, "A").Attempts)
	assert.Equal(t, int32(3), calls.Load())

	var decoded Node
	require.NoError(t, json.Unmarshal([]byte(`{"id":"A","waitBetweenTries":0}`), &decoded))
	require.NotNil(t, decoded.WaitBetweenTries)
	assert.Equal(t, 0, *decoded.WaitBetweenTries)
}

func TestExecute_ExecutionOrderV1(t *testing.T) {
	progress := &progressLog{}
	exec := newTestExecutor(nil, WithHooks(Hooks{OnProgress: progress.hook, OnLog: func(LogEntry) {}}))
	wf := &Workflow{
		Nodes: []Node{
			{ID: "root", Type: "manualTrigger"},
			{ID: "bottom", Type: "noOp", Position: Position{Y: 300}},
			{ID: "top", Type: "noOp", Position: Position{Y: 0}},
			{ID: "after-top", Type: "noOp"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "root", Target: "bottom"},
			{ID: "e2", Source: "root", Target: "top"},
			{ID: "e3", Source: "top", Target: "after-top"},
		},
	}

	_, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "top", "after-top", "bottom"}, progress.started())
}

func TestExecute_ProgressEvents(t *testing.T) {
	progress := &progressLog{}
	exec := newTestExecutor(Registry{"fail": failWith(errors.New("boom"))},
		WithHooks(Hooks{OnProgress: progress.hook, OnLog: func(LogEntry) {}}))
	wf := &Workflow{
		Nodes: []Node{{ID: "A", Type: "noOp"}, {ID: "B", Type: "fail"}},
		Edges: chain("A", "B"),
	}

	_, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)
	assert.Equal(t, []progressEvent{
		{"A", StatusRunning},
		{"A", StatusSuccess},
		{"B", StatusRunning},
		{"B", StatusError},
	}, progress.events)
}

func TestExecute_StartNodeAndInput(t *testing.T) {
	exec := newTestExecutor(nil)
	wf := &Workflow{
		Nodes: []Node{{ID: "A", Type: "noOp"}, {ID: "B", Type: "noOp"}},
		Edges: chain("A", "B"),
	}
	input := items(map[string]any{"seed": 1})

	rec, err := exec.Execute(context.Background(), wf,
		Options{StartNodeID: "B", InputData: input, Mode: ModeTest, ExecutionID: "exec-1"})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", rec.ID)
	assert.Equal(t, ModeTest, rec.Mode)
	assert.Equal(t, StatusPending, runData(t, rec, "A").Status)
	assert.Equal(t, [][]ExecutionItem{input}, runData(t, rec, "B").InputData)

	_, err = exec.Execute(context.Background(), wf, Options{StartNodeID: "missing"})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = exec.Execute(context.Background(), &Workflow{}, Options{})
	assert.ErrorIs(t, err, ErrNoStartNode)

	rec, err = exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]ExecutionItem{items(map[string]any{})}, runData(t, rec, "A").InputData)
}

func TestExecute_ExecuteOnceAndAlwaysOutputData(t *testing.T) {
	exec := newTestExecutor(Registry{
		"three": emit(items(map[string]any{"i": 0}, map[string]any{"i": 1}, map[string]any{"i": 2})),
		"empty": emit([]ExecutionItem{}),
	})
	wf := &Workflow{
		Nodes: []Node{
			{ID: "src", Type: "three"},
			{ID: "once", Type: "noOp", ExecuteOnce: true},
			{ID: "nothing", Type: "empty", AlwaysOutputData: true},
		},
		Edges: []Edge{
			{ID: "e1", Source: "src", Target: "once"},
			{ID: "e2", Source: "src", Target: "nothing"},
		},
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	once := runData(t, rec, "once")
	assert.Len(t, once.InputData[0], 3)
	assert.Equal(t, [][]ExecutionItem{items(map[string]any{"i": 0})}, once.Data.Main)

	assert.Equal(t, [][]ExecutionItem{items(map[string]any{})}, runData(t, rec, "nothing").Data.Main)
}

func TestExecute_PanicRecovered(t *testing.T) {
	exec := newTestExecutor(Registry{
		"panic": NodeTypeFunc(func(*ExecutionContext) ([][]ExecutionItem, error) {
			panic("kaboom")
		}),
	})
	wf := &Workflow{Nodes: []Node{{ID: "A", Type: "panic"}}}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)
	a := runData(t, rec, "A")
	assert.Equal(t, StatusError, a.Status)
	assert.Contains(t, a.Error.Message, "kaboom")
}

func TestExecute_ExpressionFailureNotRetried(t *testing.T) {
	exec := newTestExecutor(nil)
	wf := &Workflow{Nodes: []Node{{
		ID: "A", Type: "set", RetryOnFail: true, WaitBetweenTries: millis(1),
		Parameters: map[string]any{
			"values": map[string]any{"bad": "={{ $json.missing.deeper }}"},
		},
	}}}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	a := runData(t, rec, "A")
	assert.Equal(t, StatusError, a.Status)
	assert.Equal(t, 1, a.Attempts)
	assert.Equal(t, "EvaluationError", a.Error.Name)
	assert.Equal(t, "$json.missing.deeper", a.Error.Expression)
}

func TestExecute_StaticData(t *testing.T) {
	exec := newTestExecutor(Registry{
		"counter": NodeTypeFunc(func(ec *ExecutionContext) ([][]ExecutionItem, error) {
			global, err := ec.GetWorkflowStaticData(StaticDataGlobal)
			if err != nil {
				return nil, err
			}
			n, _ := global.Get("count")
			count, _ := toFloat64(n)
			global.Set("count", count+1)

			own, err := ec.GetWorkflowStaticData(StaticDataNode)
			if err != nil {
				return nil, err
			}
			own.Set("seen", true)
			return nil, nil
		}),
	})
	wf := &Workflow{
		Nodes:      []Node{{ID: "A", Name: "Counter", Type: "counter"}},
		StaticData: map[string]any{"global": map[string]any{"count": 1.0}, "other": "kept"},
	}

	rec, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"global":       map[string]any{"count": 2.0},
		"node:Counter": map[string]any{"seen": true},
		"other":        "kept",
	}, rec.StaticData)
	assert.Equal(t, 1.0, wf.StaticData["global"].(map[string]any)["count"])
}

func TestExecute_LogHook(t *testing.T) {
	var mu sync.Mutex
	var entries []LogEntry
	exec := newTestExecutor(Registry{
		"chatty": NodeTypeFunc(func(ec *ExecutionContext) ([][]ExecutionItem, error) {
			ec.Logger().Info("hello", "k", "v")
			ec.Logger().Warn("odd", "dangling")
			return nil, nil
		}),
	}, WithHooks(Hooks{OnLog: func(e LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		entries = append(entries, e)
	}}))
	wf := &Workflow{Nodes: []Node{{ID: "A", Name: "Chatty", Type: "chatty"}}}

	_, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, LogInfo, entries[0].Level)
	assert.Equal(t, "A", entries[0].NodeID)
	assert.Equal(t, "Chatty", entries[0].NodeName)
	assert.Equal(t, map[string]any{"k": "v"}, entries[0].Data)
	assert.Equal(t, map[string]any{"!BADKEY": "dangling"}, entries[1].Data)
}

func TestExecute_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	exec := newTestExecutor(Registry{"fail": failWith(errors.New("boom"))}, WithTracerProvider(tp))
	wf := &Workflow{
		ID:    "wf",
		Nodes: []Node{{ID: "A", Name: "First", Type: "noOp"}, {ID: "B", Name: "Second", Type: "fail"}},
		Edges: chain("A", "B"),
	}

	_, err := exec.Execute(context.Background(), wf, Options{})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	names := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		names[s.Name()] = s
	}
	require.Contains(t, names, "workflow.execute")
	require.Contains(t, names, "workflow.node First")
	require.Contains(t, names, "workflow.node Second")

	root := names["workflow.execute"]
	assert.Equal(t, root.SpanContext().TraceID(), names["workflow.node Second"].SpanContext().TraceID())
	assert.Equal(t, "Error", names["workflow.node Second"].Status().Code.String())
}
