package workflow

import (
	"maps"
	"sync"
)

const (
	StaticDataGlobal = "global"
	StaticDataNode   = "node"
)

// StaticData is a mutable key/value bag persisted with the workflow between
// runs. It is safe for concurrent use.
type StaticData struct {
	mu     sync.RWMutex
	values map[string]any
}

func newStaticData(values map[string]any) *StaticData {
	if values == nil {
		values = map[string]any{}
	}
	return &StaticData{values: values}
}

func (s *StaticData) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *StaticData) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *StaticData) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns a shallow copy of the bag.
func (s *StaticData) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// staticDataStore holds the run's bags, keyed "global" or "node:<name>".
// Keys of the workflow's static data that are not bags are kept as is.
type staticDataStore struct {
	mu      sync.Mutex
	initial map[string]any
	bags    map[string]*StaticData
}

func newStaticDataStore(initial map[string]any) *staticDataStore {
	return &staticDataStore{
		initial: maps.Clone(initial),
		bags:    map[string]*StaticData{},
	}
}

func (s *staticDataStore) bag(key string) *StaticData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bags[key]; ok {
		return b
	}
	seed, _ := s.initial[key].(map[string]any)
	b := newStaticData(maps.Clone(seed))
	s.bags[key] = b
	return b
}

func (s *staticDataStore) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.initial) == 0 && len(s.bags) == 0 {
		return nil
	}
	res := maps.Clone(s.initial)
	if res == nil {
		res = map[string]any{}
	}
	for key, b := range s.bags {
		res[key] = b.Snapshot()
	}
	return res
}

func nodeStaticKey(n *Node) string {
	return "node:" + n.DisplayName()
}
