package expr

import (
	"errors"
	"fmt"
)

var (
	ErrSyntax            = errors.New("syntax error")
	ErrUndefinedVariable = errors.New("variable is not defined")
	ErrNotCallable       = errors.New("value is not a function")
	ErrNilProperty       = errors.New("cannot read properties of undefined")
	ErrBadOperand        = errors.New("invalid operand")
	ErrUnterminated      = errors.New("unterminated expression block")
)

// EvaluationError reports a failed expression along with its source text
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("invalid expression %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func evalError(src string, err error) error {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return err
	}
	return &EvaluationError{Expression: src, Err: err}
}
