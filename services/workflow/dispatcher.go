package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stupidking717/kerdar-sub000/pkg/log"
)

const (
	defaultMaxTries         = 3
	defaultWaitBetweenTries = 1000 * time.Millisecond
)

// dispatch runs one node through pending -> running -> terminal and hands
// its output to the propagator. A non-nil error aborts the run.
func (r *run) dispatch(ctx context.Context, node *Node, input [][]ExecutionItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.state.claim(node.ID) {
		return nil
	}

	ctx, span := r.startNodeSpan(ctx, node)

	if node.Disabled {
		r.state.skip(node.ID, input)
		r.progress(node.ID, StatusSkipped, nil)
		endSpan(span, StatusSkipped, nil)
		return r.propagate(ctx, node, [][]ExecutionItem{{}})
	}

	nt, ok := r.registry.Get(node.Type)
	if !ok {
		err := &UnknownNodeTypeError{NodeID: node.ID, Type: node.Type}
		r.state.fail(node.ID, input, err)
		r.progress(node.ID, StatusError, newErrorInfo(node.ID, err))
		endSpan(span, StatusError, err)
		return r.failure(ctx, node, err)
	}

	r.state.start(node.ID, input)
	r.progress(node.ID, StatusRunning, nil)
	slog.Debug("Executing node", log.ExecutionID(r.id), log.NodeID(node.ID),
		slog.String("type", node.Type))

	out, err := r.executeWithRetry(ctx, node, nt, input)
	if err != nil {
		r.state.fail(node.ID, input, err)
		info := newErrorInfo(node.ID, err)
		r.progress(node.ID, StatusError, info)
		endSpan(span, StatusError, err)
		slog.Warn("Node failed", log.ExecutionID(r.id), log.NodeID(node.ID), log.Error(err))

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if node.ContinueOnFail {
			return r.propagate(ctx, node, [][]ExecutionItem{{errorItem(err)}})
		}
		return r.failure(ctx, node, err)
	}

	if node.AlwaysOutputData && isEmptyOutput(out) {
		out = [][]ExecutionItem{{{JSON: map[string]any{}}}}
	}
	r.state.succeed(node.ID, out)
	r.progress(node.ID, StatusSuccess, out)
	endSpan(span, StatusSuccess, nil)
	return r.propagate(ctx, node, out)
}

// failure decides whether a node error aborts the run.
func (r *run) failure(ctx context.Context, node *Node, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if r.opts.StopOnError {
		return fmt.Errorf("node %q: %w", node.ID, err)
	}
	return nil
}

func (r *run) executeWithRetry(
	ctx context.Context, node *Node, nt NodeType, input [][]ExecutionItem,
) ([][]ExecutionItem, error) {
	maxTries, wait := 1, time.Duration(0)
	if node.RetryOnFail {
		maxTries = node.MaxTries
		if maxTries <= 0 {
			maxTries = defaultMaxTries
		}
		wait = defaultWaitBetweenTries
		if node.WaitBetweenTries != nil {
			wait = max(time.Duration(*node.WaitBetweenTries)*time.Millisecond, 0)
		}
	}

	if node.ExecuteOnce {
		input = firstItems(input)
	}

	for attempt := 1; ; attempt++ {
		r.state.setAttempts(node.ID, attempt)
		out, err := r.attempt(ctx, node, nt, input)
		if err == nil {
			return out, nil
		}
		if attempt >= maxTries || !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		slog.Debug("Retrying node", log.ExecutionID(r.id), log.NodeID(node.ID),
			slog.Int("attempt", attempt), log.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

type attemptResult struct {
	out [][]ExecutionItem
	err error
}

// attempt runs one execute call holding a concurrency slot, racing the node
// timeout. An execute call that ignores its context is abandoned but keeps
// its slot until it returns.
func (r *run) attempt(
	ctx context.Context, node *Node, nt NodeType, input [][]ExecutionItem,
) ([][]ExecutionItem, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.nodeTimeout)
	defer cancel()

	ec := newExecutionContext(attemptCtx, r, node, input)
	done := make(chan attemptResult, 1)
	go func() {
		defer r.sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				done <- attemptResult{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := nt.Execute(ec)
		done <- attemptResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, r.classify(ctx, attemptCtx, node, res.err)
		}
		if res.out == nil {
			res.out = [][]ExecutionItem{}
		}
		return res.out, nil
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{NodeID: node.ID, Timeout: r.nodeTimeout}
	}
}

// classify normalizes an execute error into the engine's error kinds.
func (r *run) classify(ctx, attemptCtx context.Context, node *Node, err error) error {
	if ctx.Err() != nil && isCancellation(err) {
		return ctx.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{NodeID: node.ID, Timeout: r.nodeTimeout}
	}
	var (
		ve *ValidationError
		ee *EvaluationError
		te *TimeoutError
		ne *NodeExecutionError
	)
	if errors.As(err, &ve) || errors.As(err, &ee) || errors.As(err, &te) || errors.As(err, &ne) {
		return err
	}
	return &NodeExecutionError{NodeID: node.ID, Err: err}
}

func (r *run) progress(nodeID string, status NodeStatus, payload any) {
	if r.hooks.OnProgress != nil {
		r.hooks.OnProgress(nodeID, status, payload)
	}
}

// errorItem is what a continueOnFail node emits instead of its output.
func errorItem(err error) ExecutionItem {
	msg := err.Error()
	var ne *NodeExecutionError
	if errors.As(err, &ne) {
		msg = ne.Err.Error()
	}
	return ExecutionItem{JSON: map[string]any{
		"error": map[string]any{
			"message": msg,
			"name":    errorName(err),
		},
	}}
}

func firstItems(input [][]ExecutionItem) [][]ExecutionItem {
	res := make([][]ExecutionItem, len(input))
	for i, items := range input {
		if len(items) > 1 {
			items = items[:1]
		}
		res[i] = items
	}
	return res
}

func isEmptyOutput(out [][]ExecutionItem) bool {
	for _, items := range out {
		if len(items) > 0 {
			return false
		}
	}
	return true
}
