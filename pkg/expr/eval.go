package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

type (
	// Scope holds the reference variables visible to an expression
	Scope map[string]any

	// Func is a helper callable from expressions. Only values of this type
	// can be invoked
	Func func(args ...any) (any, error)

	// Object is a helper value exposing named members to expressions
	Object interface {
		Member(name string) (any, bool)
	}
)

func (l *literal) eval(Scope) (any, error) {
	return l.value, nil
}

func (i *identifier) eval(s Scope) (any, error) {
	v, ok := s[i.name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefinedVariable, i.name)
	}
	return v, nil
}

func (m *member) eval(s Scope) (any, error) {
	obj, err := m.object.eval(s)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if m.optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%w (reading '%s')", ErrNilProperty, m.name)
	}
	return getMember(obj, m.name), nil
}

func (i *index) eval(s Scope) (any, error) {
	obj, err := i.object.eval(s)
	if err != nil {
		return nil, err
	}
	key, err := i.key.eval(s)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if i.optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%w (reading '%s')", ErrNilProperty,
			toString(key))
	}
	return getIndex(obj, key), nil
}

func (c *call) eval(s Scope) (any, error) {
	callee, err := c.callee.eval(s)
	if err != nil {
		return nil, err
	}
	if callee == nil && c.optional {
		return nil, nil
	}
	fn, ok := callee.(Func)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, callee)
	}
	args := make([]any, len(c.args))
	for idx, arg := range c.args {
		if args[idx], err = arg.eval(s); err != nil {
			return nil, err
		}
	}
	return fn(args...)
}

func (u *unary) eval(s Scope) (any, error) {
	v, err := u.operand.eval(s)
	if err != nil {
		return nil, err
	}
	switch u.op {
	case "!":
		return !Truthy(v), nil
	case "-":
		return -toNumber(v), nil
	default:
		return toNumber(v), nil
	}
}

func (b *binary) eval(s Scope) (any, error) {
	l, err := b.left.eval(s)
	if err != nil {
		return nil, err
	}
	r, err := b.right.eval(s)
	if err != nil {
		return nil, err
	}
	switch b.op {
	case "+":
		_, ls := l.(string)
		_, rs := r.(string)
		if ls || rs {
			return toString(l) + toString(r), nil
		}
		return toNumber(l) + toNumber(r), nil
	case "-":
		return toNumber(l) - toNumber(r), nil
	case "*":
		return toNumber(l) * toNumber(r), nil
	case "/":
		return toNumber(l) / toNumber(r), nil
	case "%":
		return math.Mod(toNumber(l), toNumber(r)), nil
	case "===":
		return strictEqual(l, r), nil
	case "!==":
		return !strictEqual(l, r), nil
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	default:
		return compare(b.op, l, r), nil
	}
}

func (l *logical) eval(s Scope) (any, error) {
	left, err := l.left.eval(s)
	if err != nil {
		return nil, err
	}
	switch l.op {
	case "&&":
		if !Truthy(left) {
			return left, nil
		}
	case "||":
		if Truthy(left) {
			return left, nil
		}
	default:
		if left != nil {
			return left, nil
		}
	}
	return l.right.eval(s)
}

func (c *conditional) eval(s Scope) (any, error) {
	test, err := c.test.eval(s)
	if err != nil {
		return nil, err
	}
	if Truthy(test) {
		return c.consequent.eval(s)
	}
	return c.alternate.eval(s)
}

func (a *arrayLiteral) eval(s Scope) (any, error) {
	res := make([]any, len(a.elems))
	for idx, elem := range a.elems {
		v, err := elem.eval(s)
		if err != nil {
			return nil, err
		}
		res[idx] = v
	}
	return res, nil
}

func (o *objectLiteral) eval(s Scope) (any, error) {
	res := make(map[string]any, len(o.keys))
	for idx, key := range o.keys {
		v, err := o.values[idx].eval(s)
		if err != nil {
			return nil, err
		}
		res[key] = v
	}
	return res, nil
}

func getMember(obj any, name string) any {
	switch v := obj.(type) {
	case Object:
		res, _ := v.Member(name)
		return res
	case map[string]any:
		return v[name]
	case []any:
		if name == "length" {
			return float64(len(v))
		}
		return nil
	case string:
		if name == "length" {
			return float64(len([]rune(v)))
		}
		return nil
	}

	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		res := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !res.IsValid() {
			return nil
		}
		return res.Interface()
	case reflect.Slice, reflect.Array:
		if name == "length" {
			return float64(rv.Len())
		}
	}
	return nil
}

func getIndex(obj any, key any) any {
	if name, ok := key.(string); ok {
		return getMember(obj, name)
	}
	f, ok := numeric(key)
	if !ok {
		return getMember(obj, toString(key))
	}
	if f != math.Trunc(f) || f < 0 {
		return nil
	}
	idx := int(f)

	switch v := obj.(type) {
	case []any:
		if idx < len(v) {
			return v[idx]
		}
		return nil
	case string:
		runes := []rune(v)
		if idx < len(runes) {
			return string(runes[idx])
		}
		return nil
	}

	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if idx < rv.Len() {
			return rv.Index(idx).Interface()
		}
		return nil
	}
	return getMember(obj, strconv.Itoa(idx))
}

// Truthy reports whether v counts as true in a boolean context
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := numeric(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// numeric converts Go and JSON number representations to float64
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toNumber(v any) float64 {
	if f, ok := numeric(v); ok {
		return f
	}
	switch t := v.(type) {
	case nil:
		return 0
	case DateTime:
		return float64(t.t.UnixMilli())
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	case Func:
		return "[function]"
	}
	if f, ok := numeric(v); ok {
		return formatNumber(f)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func strictEqual(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if lok || rok {
		return lok && rok && lf == rf
	}
	return reflect.DeepEqual(l, r)
}

func looseEqual(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	_, ls := l.(string)
	_, rs := r.(string)
	_, ln := numeric(l)
	_, rn := numeric(r)
	if (ls && rn) || (rs && ln) {
		return toNumber(l) == toNumber(r)
	}
	return strictEqual(l, r)
}

func compare(op string, l, r any) bool {
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs
		case "<=":
			return ls <= rs
		case ">":
			return ls > rs
		default:
			return ls >= rs
		}
	}
	lf, rf := toNumber(l), toNumber(r)
	switch op {
	case "<":
		return lf < rf
	case "<=":
		return lf <= rf
	case ">":
		return lf > rf
	default:
		return lf >= rf
	}
}
