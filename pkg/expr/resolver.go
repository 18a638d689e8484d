package expr

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Program is a parsed expression ready for evaluation
type Program struct {
	src  string
	root node
}

type segment struct {
	text   string
	isExpr bool
}

const programCacheSize = 4096

var programs = newProgramCache()

func newProgramCache() *lru.Cache[string, *Program] {
	cache, err := lru.New[string, *Program](programCacheSize)
	if err != nil {
		panic(err)
	}
	return cache
}

// Compile parses src, reusing previously parsed programs
func Compile(src string) (*Program, error) {
	if p, ok := programs.Get(src); ok {
		return p, nil
	}
	root, err := parse(src)
	if err != nil {
		return nil, evalError(src, err)
	}
	p := &Program{src: src, root: root}
	programs.Add(src, p)
	return p, nil
}

// Source returns the expression text the program was compiled from
func (p *Program) Source() string {
	return p.src
}

// Eval runs the program against the given scope
func (p *Program) Eval(s Scope) (any, error) {
	res, err := p.root.eval(s)
	if err != nil {
		return nil, evalError(p.src, err)
	}
	return res, nil
}

// Evaluate compiles and runs a bare expression (no `{{ }}` wrapper)
func Evaluate(src string, s Scope) (any, error) {
	p, err := Compile(strings.TrimSpace(src))
	if err != nil {
		return nil, err
	}
	return p.Eval(s)
}

// IsExpression reports whether s is wrapped in `{{ }}` or starts with `=`
func IsExpression(s string) bool {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "=") {
		return true
	}
	return strings.HasPrefix(t, "{{") && strings.HasSuffix(t, "}}")
}

// Resolve evaluates every expression string inside value. Maps and slices
// are copied with their elements resolved; everything else is returned as
// is
func Resolve(value any, s Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return ResolveString(v, s)
	case map[string]any:
		res := make(map[string]any, len(v))
		for key, elem := range v {
			r, err := Resolve(elem, s)
			if err != nil {
				return nil, err
			}
			res[key] = r
		}
		return res, nil
	case []any:
		res := make([]any, len(v))
		for idx, elem := range v {
			r, err := Resolve(elem, s)
			if err != nil {
				return nil, err
			}
			res[idx] = r
		}
		return res, nil
	default:
		return value, nil
	}
}

// ResolveString evaluates a single string value. A value made of exactly
// one `{{ }}` block keeps the type of its result; text mixed with blocks
// renders to a string
func ResolveString(str string, s Scope) (any, error) {
	if !IsExpression(str) {
		return str, nil
	}
	body := strings.TrimSpace(str)
	if strings.HasPrefix(body, "=") {
		body = body[1:]
		if !strings.Contains(body, "{{") {
			return Evaluate(body, s)
		}
	}

	segs, err := splitTemplate(body)
	if err != nil {
		return nil, evalError(str, err)
	}
	if single, ok := singleExpression(segs); ok {
		return Evaluate(single, s)
	}

	var sb strings.Builder
	for _, seg := range segs {
		if !seg.isExpr {
			sb.WriteString(seg.text)
			continue
		}
		v, err := Evaluate(seg.text, s)
		if err != nil {
			return nil, err
		}
		sb.WriteString(toString(v))
	}
	return sb.String(), nil
}

// Stringify renders an evaluated value the way templates do
func Stringify(v any) string {
	return toString(v)
}

func singleExpression(segs []segment) (string, bool) {
	var res string
	found := false
	for _, seg := range segs {
		if !seg.isExpr {
			if strings.TrimSpace(seg.text) != "" {
				return "", false
			}
			continue
		}
		if found {
			return "", false
		}
		res, found = seg.text, true
	}
	return res, found
}

func splitTemplate(s string) ([]segment, error) {
	var res []segment
	pos := 0
	for pos < len(s) {
		open := strings.Index(s[pos:], "{{")
		if open < 0 {
			res = append(res, segment{text: s[pos:]})
			break
		}
		open += pos
		if open > pos {
			res = append(res, segment{text: s[pos:open]})
		}
		end, err := findClose(s, open+2)
		if err != nil {
			return nil, err
		}
		res = append(res, segment{text: s[open+2 : end], isExpr: true})
		pos = end + 2
	}
	return res, nil
}

// findClose locates the `}}` ending a block, skipping braces and quotes
// that belong to the expression itself
func findClose(s string, from int) (int, error) {
	depth := 0
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
				continue
			}
			if i+1 < len(s) && s[i+1] == '}' {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w at %d", ErrUnterminated, from-2)
}
