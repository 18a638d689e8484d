package workflow

import (
	"slices"
	"sync"
	"time"
)

// stateStore tracks every node of one run. It is shared by all branches.
type stateStore struct {
	mu       sync.Mutex
	now      func() time.Time
	order    []string
	states   map[string]*NodeExecutionState
	claimed  map[string]bool
	joins    map[string]*join
	lastNode string
}

// join collects deliveries for a node with several reachable inputs.
type join struct {
	remaining int
	inputs    [][]ExecutionItem
}

func newStateStore(nodes []Node, now func() time.Time) *stateStore {
	s := &stateStore{
		now:     now,
		order:   make([]string, 0, len(nodes)),
		states:  make(map[string]*NodeExecutionState, len(nodes)),
		claimed: make(map[string]bool, len(nodes)),
		joins:   map[string]*join{},
	}
	for _, n := range nodes {
		s.order = append(s.order, n.ID)
		s.states[n.ID] = &NodeExecutionState{NodeID: n.ID, Status: StatusPending}
	}
	return s
}

// expect registers how many deliveries a node waits for before dispatch.
func (s *stateStore) expect(nodeID string, deliveries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins[nodeID] = &join{remaining: deliveries}
}

// deliver records items arriving on one input of a node and reports whether
// the node is now ready, returning its assembled inputs.
func (s *stateStore) deliver(nodeID string, index int, items []ExecutionItem) ([][]ExecutionItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.joins[nodeID]
	if !ok {
		j = &join{remaining: 1}
		s.joins[nodeID] = j
	}
	for len(j.inputs) <= index {
		j.inputs = append(j.inputs, nil)
	}
	if j.inputs[index] == nil {
		j.inputs[index] = items
	} else {
		j.inputs[index] = slices.Concat(j.inputs[index], items)
	}
	j.remaining--
	if j.remaining > 0 {
		return nil, false
	}
	for i := range j.inputs {
		if j.inputs[i] == nil {
			j.inputs[i] = []ExecutionItem{}
		}
	}
	return j.inputs, true
}

// claim marks a node as dispatched. It fails for a node already claimed.
func (s *stateStore) claim(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[nodeID] {
		return false
	}
	s.claimed[nodeID] = true
	return true
}

func (s *stateStore) start(nodeID string, input [][]ExecutionItem) {
	s.update(nodeID, func(st *NodeExecutionState) {
		st.Status = StatusRunning
		st.Input = input
		st.StartedAt = s.now()
	})
}

func (s *stateStore) setAttempts(nodeID string, attempts int) {
	s.update(nodeID, func(st *NodeExecutionState) {
		st.Attempts = attempts
	})
}

func (s *stateStore) succeed(nodeID string, output [][]ExecutionItem) {
	s.finish(nodeID, func(st *NodeExecutionState) {
		st.Status = StatusSuccess
		st.Output = output
	})
}

func (s *stateStore) fail(nodeID string, input [][]ExecutionItem, err error) {
	s.finish(nodeID, func(st *NodeExecutionState) {
		st.Status = StatusError
		if st.Input == nil {
			st.Input = input
		}
		st.Error = newErrorInfo(nodeID, err)
	})
}

func (s *stateStore) skip(nodeID string, input [][]ExecutionItem) {
	s.finish(nodeID, func(st *NodeExecutionState) {
		st.Status = StatusSkipped
		st.Input = input
	})
}

func (s *stateStore) finish(nodeID string, fn func(*NodeExecutionState)) {
	s.update(nodeID, func(st *NodeExecutionState) {
		now := s.now()
		if st.StartedAt.IsZero() {
			st.StartedAt = now
		}
		st.EndedAt = now
		fn(st)
		s.lastNode = nodeID
	})
}

func (s *stateStore) update(nodeID string, fn func(*NodeExecutionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[nodeID]; ok {
		fn(st)
	}
}

// snapshot copies every node state in workflow order.
func (s *stateStore) snapshot() []NodeExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]NodeExecutionState, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, *s.states[id])
	}
	return res
}

func (s *stateStore) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNode
}
