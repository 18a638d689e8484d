package expr

import (
	"fmt"
	"strconv"
)

type (
	node interface {
		eval(s Scope) (any, error)
	}

	literal struct {
		value any
	}

	identifier struct {
		name string
	}

	member struct {
		object   node
		name     string
		optional bool
	}

	index struct {
		object   node
		key      node
		optional bool
	}

	call struct {
		callee   node
		args     []node
		optional bool
	}

	unary struct {
		op      string
		operand node
	}

	binary struct {
		op          string
		left, right node
	}

	logical struct {
		op          string
		left, right node
	}

	conditional struct {
		test, consequent, alternate node
	}

	arrayLiteral struct {
		elems []node
	}

	objectLiteral struct {
		keys   []string
		values []node
	}

	parser struct {
		tokens []token
		pos    int
		depth  int
	}
)

const (
	// maxNesting bounds parentheses, brackets, braces, ternaries and
	// prefix operators nested inside one another
	maxNesting = 256
	// maxTokens bounds flat operator and member chains, which become
	// equally deep trees
	maxTokens = 10000
)

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) > maxTokens {
		return nil, fmt.Errorf("%w: expression too long", ErrSyntax)
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	n, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) accept(texts ...string) (string, bool) {
	for _, text := range texts {
		if p.isPunct(text) {
			p.pos++
			return text, true
		}
	}
	return "", false
}

func (p *parser) expect(text string) error {
	if _, ok := p.accept(text); ok {
		return nil
	}
	return p.unexpected(p.peek())
}

func (p *parser) unexpected(t token) error {
	if t.kind == tokEOF {
		return fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	text := t.text
	if t.kind == tokString {
		text = strconv.Quote(t.text)
	}
	return fmt.Errorf("%w: unexpected token %s at %d", ErrSyntax, text, t.pos)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return fmt.Errorf("%w: expression nested too deeply", ErrSyntax)
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseConditional() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	test, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if _, ok := p.accept("?"); !ok {
		return test, nil
	}
	yes, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	no, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return &conditional{test: test, consequent: yes, alternate: no}, nil
}

func (p *parser) parseLogicalOr() (node, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept("||", "??")
		if !ok {
			return left, nil
		}
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		left = &logical{op: op, left: left, right: right}
	}
}

func (p *parser) parseLogicalAnd() (node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept("&&"); !ok {
			return left, nil
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &logical{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseEquality() (node, error) {
	return p.parseBinary(p.parseRelational, "===", "!==", "==", "!=")
}

func (p *parser) parseRelational() (node, error) {
	return p.parseBinary(p.parseAdditive, "<=", ">=", "<", ">")
}

func (p *parser) parseAdditive() (node, error) {
	return p.parseBinary(p.parseMultiplicative, "+", "-")
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.parseBinary(p.parseUnary, "*", "/", "%")
}

func (p *parser) parseBinary(
	operand func() (node, error), ops ...string,
) (node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept(ops...)
		if !ok {
			return left, nil
		}
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &binary{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.accept("!", "-", "+"); ok {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unary{op: op, operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles member access, indexing and calls. Once a chain
// contains `?.`, every later link also tolerates a nil receiver
func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	optional := false
	for {
		switch {
		case p.isPunct("."), p.isPunct("?."):
			if p.next().text == "?." {
				optional = true
				if p.isPunct("(") || p.isPunct("[") {
					continue
				}
			}
			t := p.next()
			if t.kind != tokIdent {
				return nil, p.unexpected(t)
			}
			n = &member{object: n, name: t.text, optional: optional}
		case p.isPunct("["):
			p.next()
			key, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			n = &index{object: n, key: key, optional: optional}
		case p.isPunct("("):
			p.next()
			args, err := p.parseList(")")
			if err != nil {
				return nil, err
			}
			n = &call{callee: n, args: args, optional: optional}
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literal{value: t.num}, nil
	case tokString:
		return &literal{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literal{value: true}, nil
		case "false":
			return &literal{value: false}, nil
		case "null", "undefined":
			return &literal{value: nil}, nil
		}
		return &identifier{name: t.text}, nil
	case tokPunct:
		switch t.text {
		case "(":
			n, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return n, nil
		case "[":
			elems, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return &arrayLiteral{elems: elems}, nil
		case "{":
			return p.parseObject()
		}
	}
	return nil, p.unexpected(t)
}

func (p *parser) parseList(closer string) ([]node, error) {
	var res []node
	for {
		if _, ok := p.accept(closer); ok {
			return res, nil
		}
		n, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		res = append(res, n)
		if _, ok := p.accept(","); ok {
			continue
		}
		if err := p.expect(closer); err != nil {
			return nil, err
		}
		return res, nil
	}
}

func (p *parser) parseObject() (node, error) {
	obj := &objectLiteral{}
	for {
		if _, ok := p.accept("}"); ok {
			return obj, nil
		}
		t := p.next()
		var key string
		switch t.kind {
		case tokIdent, tokString:
			key = t.text
		case tokNumber:
			key = formatNumber(t.num)
		default:
			return nil, p.unexpected(t)
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		value, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		obj.keys = append(obj.keys, key)
		obj.values = append(obj.values, value)
		if _, ok := p.accept(","); ok {
			continue
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		return obj, nil
	}
}
