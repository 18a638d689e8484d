// Package expr implements the expression language used in node parameters.
//
// A parameter value is an expression when it is wrapped in `{{ }}` or
// starts with `=`. Expressions are parsed by a restricted grammar: literals,
// variable and property access, indexing, arithmetic, comparison, logical
// operators, the conditional operator, and calls to helper functions that
// the caller places in the Scope. Nothing else is reachable from an
// expression.
package expr
