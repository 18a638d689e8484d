package workflow

import "context"

// propagate routes a node's output channels along its outgoing edges. Each
// edge delivers output[sourceIndex] (empty when the node produced fewer
// channels) to the target's input at targetIndex.
func (r *run) propagate(ctx context.Context, node *Node, output [][]ExecutionItem) error {
	for _, rt := range r.graph.outgoing[node.ID] {
		items := []ExecutionItem{}
		if rt.sourceIndex < len(output) && output[rt.sourceIndex] != nil {
			items = output[rt.sourceIndex]
		}
		input, ready := r.state.deliver(rt.edge.Target, rt.targetIndex, items)
		if !ready {
			continue
		}
		target, _ := r.graph.Node(rt.edge.Target)
		if err := r.launch(ctx, target, input); err != nil {
			return err
		}
	}
	return nil
}

// launch dispatches depth-first on the caller's goroutine, or on the run's
// errgroup when branches may execute concurrently.
func (r *run) launch(ctx context.Context, node *Node, input [][]ExecutionItem) error {
	if r.group == nil {
		return r.dispatch(ctx, node, input)
	}
	r.group.Go(func() error {
		return r.dispatch(ctx, node, input)
	})
	return nil
}

// expectJoins tells the state store how many reachable inputs each node
// waits for.
func (r *run) expectJoins(reachable map[string]bool) {
	for id := range reachable {
		n := 0
		for _, rt := range r.graph.incoming[id] {
			if reachable[rt.edge.Source] {
				n++
			}
		}
		if n > 1 {
			r.state.expect(id, n)
		}
	}
}
