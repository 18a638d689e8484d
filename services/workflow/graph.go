package workflow

import (
	"sort"
	"strconv"
	"strings"
)

// Graph is a validated, read-only view over a workflow's nodes and edges.
type Graph struct {
	workflow *Workflow
	nodes    map[string]*Node
	outgoing map[string][]route
	incoming map[string][]route
}

// route is an edge with its handles parsed into channel indexes.
type route struct {
	edge        Edge
	sourceIndex int
	targetIndex int
}

// NewGraph validates the workflow and indexes its edges. Node IDs must be
// unique, edges must reference existing nodes with numeric handles, and the
// graph must be acyclic.
func NewGraph(wf *Workflow) (*Graph, error) {
	if wf == nil {
		return nil, validationErrorf("", "workflow is nil")
	}

	g := &Graph{
		workflow: wf,
		nodes:    make(map[string]*Node, len(wf.Nodes)),
		outgoing: make(map[string][]route),
		incoming: make(map[string][]route),
	}
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.ID == "" {
			return nil, validationErrorf("", "node at position %d has no id", i)
		}
		if _, ok := g.nodes[n.ID]; ok {
			return nil, validationErrorf(n.ID, "duplicate node id")
		}
		g.nodes[n.ID] = n
	}

	for _, e := range wf.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, validationErrorf("",
				"edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, validationErrorf("",
				"edge %q references unknown target node %q", e.ID, e.Target)
		}
		from, err := parseHandle(e.SourceHandle)
		if err != nil {
			return nil, validationErrorf(e.Source,
				"edge %q has invalid source handle %q", e.ID, e.SourceHandle)
		}
		to, err := parseHandle(e.TargetHandle)
		if err != nil {
			return nil, validationErrorf(e.Target,
				"edge %q has invalid target handle %q", e.ID, e.TargetHandle)
		}
		r := route{edge: e, sourceIndex: from, targetIndex: to}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], r)
		g.incoming[e.Target] = append(g.incoming[e.Target], r)
	}

	if id, ok := g.findCycle(); ok {
		return nil, validationErrorf(id, "workflow contains a cycle")
	}

	if wf.Settings.ExecutionOrder != ExecutionOrderV0 {
		for id, routes := range g.outgoing {
			sort.SliceStable(routes, func(i, j int) bool {
				a := g.nodes[routes[i].edge.Target].Position
				b := g.nodes[routes[j].edge.Target].Position
				if a.Y != b.Y {
					return a.Y < b.Y
				}
				return a.X < b.X
			})
			g.outgoing[id] = routes
		}
	}
	return g, nil
}

// Workflow returns the underlying workflow definition.
func (g *Graph) Workflow() *Workflow {
	return g.workflow
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// FindStartNodes returns the explicitly requested node, or every node that
// is not the target of any edge. An unknown explicit ID yields no nodes.
func (g *Graph) FindStartNodes(explicitID string) []Node {
	if explicitID != "" {
		if n, ok := g.nodes[explicitID]; ok {
			return []Node{*n}
		}
		return nil
	}
	var res []Node
	for _, n := range g.workflow.Nodes {
		if len(g.incoming[n.ID]) == 0 {
			res = append(res, n)
		}
	}
	return res
}

// OutgoingEdges returns the edges leaving a node, in dispatch order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	return edgesOf(g.outgoing[nodeID])
}

// IncomingEdges returns the edges entering a node.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	return edgesOf(g.incoming[nodeID])
}

// Reachable returns the IDs of all nodes reachable from the start nodes,
// the start nodes included.
func (g *Graph) Reachable(starts []Node) map[string]bool {
	seen := make(map[string]bool, len(g.nodes))
	queue := make([]string, 0, len(starts))
	for _, n := range starts {
		if !seen[n.ID] {
			seen[n.ID] = true
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, r := range g.outgoing[id] {
			if !seen[r.edge.Target] {
				seen[r.edge.Target] = true
				queue = append(queue, r.edge.Target)
			}
		}
	}
	return seen
}

// findCycle runs Kahn's algorithm and reports a node left on a cycle.
func (g *Graph) findCycle() (string, bool) {
	indeg := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indeg[id] = len(g.incoming[id])
	}
	var queue []string
	for _, n := range g.workflow.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, r := range g.outgoing[id] {
			indeg[r.edge.Target]--
			if indeg[r.edge.Target] == 0 {
				queue = append(queue, r.edge.Target)
			}
		}
	}
	if visited == len(g.nodes) {
		return "", false
	}
	for _, n := range g.workflow.Nodes {
		if indeg[n.ID] > 0 {
			return n.ID, true
		}
	}
	return "", true
}

func edgesOf(routes []route) []Edge {
	res := make([]Edge, len(routes))
	for i, r := range routes {
		res[i] = r.edge
	}
	return res
}

// parseHandle extracts the channel index from handles such as "output-1",
// "input-0" or "2". An empty handle means index 0.
func parseHandle(h string) (int, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, nil
	}
	if i := strings.LastIndexByte(h, '-'); i > 0 {
		h = h[i+1:]
	}
	idx, err := strconv.Atoi(h)
	if err != nil {
		return 0, err
	}
	if idx < 0 {
		return 0, strconv.ErrRange
	}
	return idx, nil
}
