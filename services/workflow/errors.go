package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stupidking717/kerdar-sub000/pkg/expr"
)

var (
	ErrNoStartNode      = errors.New("workflow has no start node")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrNoCredentials    = errors.New("node has no credentials of this type")
	ErrCredentialLookup = errors.New("credential not found")
	ErrRunAborted       = errors.New("execution aborted")
)

// ValidationError reports a malformed workflow or a missing required
// parameter. It is never retried.
type ValidationError struct {
	NodeID  string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for node %q: %s", e.NodeID, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validationErrorf(nodeID, format string, args ...any) error {
	return &ValidationError{NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// UnknownNodeTypeError is raised when the registry has no entry for a
// node's type.
type UnknownNodeTypeError struct {
	NodeID string
	Type   string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("unknown node type %q for node %q", e.Type, e.NodeID)
}

// EvaluationError is raised when a parameter expression cannot be resolved.
type EvaluationError = expr.EvaluationError

// TimeoutError is raised when a node's execute call outlives the node
// timeout.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %q timed out after %s", e.NodeID, e.Timeout)
}

// NodeExecutionError wraps a failure raised by a node implementation.
type NodeExecutionError struct {
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// retryable reports whether another attempt could change the outcome.
func retryable(err error) bool {
	var ve *ValidationError
	var ee *EvaluationError
	var ue *UnknownNodeTypeError
	switch {
	case errors.As(err, &ve), errors.As(err, &ee), errors.As(err, &ue):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func errorName(err error) string {
	var (
		ve *ValidationError
		ue *UnknownNodeTypeError
		ee *EvaluationError
		te *TimeoutError
		ne *NodeExecutionError
	)
	switch {
	case errors.As(err, &ve):
		return "ValidationError"
	case errors.As(err, &ue):
		return "UnknownNodeTypeError"
	case errors.As(err, &ee):
		return "EvaluationError"
	case errors.As(err, &te):
		return "TimeoutError"
	case errors.Is(err, context.Canceled):
		return "CancellationError"
	case errors.As(err, &ne):
		return "NodeExecutionError"
	}
	return "Error"
}

func newErrorInfo(nodeID string, err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if nodeID == "" {
		nodeID = failedNode(err)
	}
	info := &ErrorInfo{
		Name:    errorName(err),
		Message: err.Error(),
		NodeID:  nodeID,
	}
	var ee *EvaluationError
	if errors.As(err, &ee) {
		info.Expression = ee.Expression
	}
	return info
}

// failedNode extracts the ID of the node an error originated from.
func failedNode(err error) string {
	var (
		ne *NodeExecutionError
		te *TimeoutError
		ue *UnknownNodeTypeError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &ne):
		return ne.NodeID
	case errors.As(err, &te):
		return te.NodeID
	case errors.As(err, &ue):
		return ue.NodeID
	case errors.As(err, &ve):
		return ve.NodeID
	}
	return ""
}
