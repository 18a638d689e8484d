package workflow

import "fmt"

// NodeType is the behavior behind a node's type string. Execute returns one
// slice of items per output channel.
type NodeType interface {
	Execute(ec *ExecutionContext) ([][]ExecutionItem, error)
}

// NodeTypeFunc adapts a plain function to the NodeType interface.
type NodeTypeFunc func(ec *ExecutionContext) ([][]ExecutionItem, error)

func (f NodeTypeFunc) Execute(ec *ExecutionContext) ([][]ExecutionItem, error) {
	return f(ec)
}

// Registry maps node type strings to their implementation.
type Registry map[string]NodeType

// NewRegistry creates a registry populated with all built-in node types.
// Extra registries are merged on top, later entries winning.
func NewRegistry(extra ...Registry) Registry {
	r := Registry{
		"manualTrigger": NodeTypeFunc(executeManualTrigger),
		"noOp":          NodeTypeFunc(executeNoOp),
		"set":           NodeTypeFunc(executeSet),
		"if":            NodeTypeFunc(executeIf),
		"httpRequest":   NodeTypeFunc(executeHTTPRequest),
		"weather":       NodeTypeFunc(executeWeather),
		"emailDraft":    NodeTypeFunc(executeEmailDraft),
		"wait":          NodeTypeFunc(executeWait),
	}
	for _, e := range extra {
		for name, nt := range e {
			r[name] = nt
		}
	}
	return r
}

// Get returns the implementation registered for a type.
func (r Registry) Get(nodeType string) (NodeType, bool) {
	nt, ok := r[nodeType]
	return nt, ok && nt != nil
}

// Register adds an implementation, refusing to overwrite an existing one.
func (r Registry) Register(nodeType string, nt NodeType) error {
	if _, ok := r[nodeType]; ok {
		return fmt.Errorf("node type %q already registered", nodeType)
	}
	r[nodeType] = nt
	return nil
}
