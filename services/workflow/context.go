package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stupidking717/kerdar-sub000/pkg/expr"
)

// ExecutionContext is handed to a node type for one execute attempt. It is
// not safe for concurrent use by the node.
type ExecutionContext struct {
	ctx       context.Context
	run       *run
	node      *Node
	inputs    [][]ExecutionItem
	itemIndex int
	logger    *NodeLogger
	helpers   *Helpers
}

func newExecutionContext(
	ctx context.Context, r *run, node *Node, inputs [][]ExecutionItem,
) *ExecutionContext {
	ec := &ExecutionContext{
		ctx:    ctx,
		run:    r,
		node:   node,
		inputs: inputs,
		logger: &NodeLogger{node: node, emit: r.hooks.OnLog, now: r.now},
	}
	ec.helpers = &Helpers{ec: ec, client: r.httpClient, limiter: r.limiter}
	return ec
}

// Context is cancelled when the attempt times out or the run is aborted.
func (ec *ExecutionContext) Context() context.Context {
	return ec.ctx
}

func (ec *ExecutionContext) Node() *Node {
	return ec.node
}

func (ec *ExecutionContext) Workflow() *Workflow {
	return ec.run.workflow
}

func (ec *ExecutionContext) Mode() Mode {
	return ec.run.mode
}

func (ec *ExecutionContext) ExecutionID() string {
	return ec.run.id
}

func (ec *ExecutionContext) Logger() *NodeLogger {
	return ec.logger
}

func (ec *ExecutionContext) Helpers() *Helpers {
	return ec.helpers
}

// GetInputData returns the items delivered on input channel i, or nil.
func (ec *ExecutionContext) GetInputData(i int) []ExecutionItem {
	if i < 0 || i >= len(ec.inputs) {
		return nil
	}
	return ec.inputs[i]
}

// ItemIndex is the input item that parameter expressions resolve against.
func (ec *ExecutionContext) ItemIndex() int {
	return ec.itemIndex
}

// EachItem calls fn for every item of the first input, advancing the item
// index so parameters resolve against the item being processed.
func (ec *ExecutionContext) EachItem(fn func(i int, item ExecutionItem) error) error {
	defer func() { ec.itemIndex = 0 }()
	for i, item := range ec.GetInputData(0) {
		if err := ec.ctx.Err(); err != nil {
			return err
		}
		ec.itemIndex = i
		if err := fn(i, item); err != nil {
			return err
		}
	}
	return nil
}

// GetNodeParameter returns the named parameter with expressions resolved
// against the current item. Dotted names reach into nested maps. A missing
// parameter returns the fallback, or a ValidationError when none is given.
func (ec *ExecutionContext) GetNodeParameter(name string, fallback ...any) (any, error) {
	raw, ok := lookupPath(ec.node.Parameters, name)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return nil, validationErrorf(ec.node.ID, "missing required parameter %q", name)
	}
	return expr.Resolve(raw, ec.scope())
}

func (ec *ExecutionContext) GetNodeParameterString(name string, fallback ...string) (string, error) {
	fb := make([]any, len(fallback))
	for i, f := range fallback {
		fb[i] = f
	}
	v, err := ec.GetNodeParameter(name, fb...)
	if err != nil {
		return "", err
	}
	return expr.Stringify(v), nil
}

func (ec *ExecutionContext) GetNodeParameterBool(name string, fallback bool) (bool, error) {
	v, err := ec.GetNodeParameter(name, fallback)
	if err != nil {
		return false, err
	}
	if s, ok := v.(string); ok {
		return strings.EqualFold(s, "true"), nil
	}
	return expr.Truthy(v), nil
}

func (ec *ExecutionContext) GetNodeParameterFloat(name string, fallback float64) (float64, error) {
	v, err := ec.GetNodeParameter(name, fallback)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat64(v)
	if !ok {
		return 0, validationErrorf(ec.node.ID, "parameter %q is not a number: %v", name, v)
	}
	return f, nil
}

// GetCredentials resolves the node's credential reference for a type.
func (ec *ExecutionContext) GetCredentials(credType string) (map[string]any, error) {
	ref, ok := ec.node.Credentials[credType]
	if !ok {
		return nil, &ValidationError{
			NodeID:  ec.node.ID,
			Message: fmt.Sprintf("no credentials of type %q", credType),
			Err:     ErrNoCredentials,
		}
	}
	if ec.run.credentials == nil {
		return nil, fmt.Errorf("%w: no credential store configured", ErrCredentialLookup)
	}
	data, err := ec.run.credentials.Get(ec.ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get %s credentials: %w", credType, err)
	}
	return data, nil
}

// GetWorkflowStaticData returns the "global" bag shared by every node, or
// the "node" bag private to this node.
func (ec *ExecutionContext) GetWorkflowStaticData(scope string) (*StaticData, error) {
	switch scope {
	case StaticDataGlobal:
		return ec.run.static.bag(StaticDataGlobal), nil
	case StaticDataNode:
		return ec.run.static.bag(nodeStaticKey(ec.node)), nil
	}
	return nil, validationErrorf(ec.node.ID, "unknown static data scope %q", scope)
}

// scope builds the expression variables for the current item.
func (ec *ExecutionContext) scope() expr.Scope {
	items := ec.GetInputData(0)
	var current ExecutionItem
	if ec.itemIndex < len(items) {
		current = items[ec.itemIndex]
	}
	json := current.JSON
	if json == nil {
		json = map[string]any{}
	}
	binary := binaryToMap(current.Binary)
	itemMap := map[string]any{
		"index":  float64(ec.itemIndex),
		"json":   json,
		"binary": binary,
	}

	r := ec.run
	return expr.Scope{
		"$json":   json,
		"$binary": binary,
		"$input": map[string]any{
			"all": expr.Func(func(...any) (any, error) {
				res := make([]any, len(items))
				for i, it := range items {
					res[i] = itemToMap(it)
				}
				return res, nil
			}),
			"first": expr.Func(func(...any) (any, error) {
				if len(items) == 0 {
					return nil, nil
				}
				return itemToMap(items[0]), nil
			}),
			"last": expr.Func(func(...any) (any, error) {
				if len(items) == 0 {
					return nil, nil
				}
				return itemToMap(items[len(items)-1]), nil
			}),
			"item": itemMap,
		},
		"$item":      itemMap,
		"$itemIndex": float64(ec.itemIndex),
		"$node": map[string]any{
			"id":        ec.node.ID,
			"name":      ec.node.DisplayName(),
			"type":      ec.node.Type,
			"parameter": ec.node.Parameters,
		},
		"$workflow": map[string]any{
			"id":   r.workflow.ID,
			"name": r.workflow.Name,
		},
		"$env":         r.env,
		"$now":         expr.NewDateTime(r.now()),
		"$today":       expr.Today(r.now()),
		"$executionId": r.id,
		"$mode":        string(r.mode),
		"$runIndex":    0.0,
	}
}

func itemToMap(item ExecutionItem) map[string]any {
	json := item.JSON
	if json == nil {
		json = map[string]any{}
	}
	return map[string]any{"json": json, "binary": binaryToMap(item.Binary)}
}

func binaryToMap(bin map[string]BinaryData) map[string]any {
	res := make(map[string]any, len(bin))
	for key, b := range bin {
		res[key] = map[string]any{
			"data":          b.Data,
			"mimeType":      b.MimeType,
			"fileName":      b.FileName,
			"fileExtension": b.FileExtension,
			"fileSize":      b.FileSize,
		}
	}
	return res
}

func lookupPath(params map[string]any, path string) (any, bool) {
	if v, ok := params[path]; ok {
		return v, true
	}
	var cur any = params
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
