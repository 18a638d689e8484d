package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var punctuators = []string{
	"===", "!==",
	"==", "!=", "<=", ">=", "&&", "||", "??", "?.",
	"+", "-", "*", "/", "%", "<", ">", "!", "?", ":",
	".", ",", "(", ")", "[", "]", "{", "}",
}

func tokenize(src string) ([]token, error) {
	var res []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case isIdentStart(r):
			start := i
			i += size
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			res = append(res, token{kind: tokIdent, text: src[start:i], pos: start})
		case isDigit(r) || (r == '.' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			tok, next, err := scanNumber(src, i)
			if err != nil {
				return nil, err
			}
			res = append(res, tok)
			i = next
		case r == '"' || r == '\'' || r == '`':
			tok, next, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			res = append(res, tok)
			i = next
		default:
			p := matchPunct(src[i:])
			if p == "" {
				return nil, fmt.Errorf("%w: unexpected character %q at %d",
					ErrSyntax, r, i)
			}
			res = append(res, token{kind: tokPunct, text: p, pos: i})
			i += len(p)
		}
	}
	res = append(res, token{kind: tokEOF, pos: len(src)})
	return res, nil
}

func matchPunct(s string) string {
	for _, p := range punctuators {
		if !strings.HasPrefix(s, p) {
			continue
		}
		// `a?.5:1` is a conditional, not optional chaining
		if p == "?." && len(s) > 2 && isDigit(rune(s[2])) {
			continue
		}
		return p
	}
	return ""
}

func scanNumber(src string, start int) (token, int, error) {
	i := start
	for i < len(src) && isDigit(rune(src[i])) {
		i++
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && isDigit(rune(src[i])) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(rune(src[j])) {
			i = j
			for i < len(src) && isDigit(rune(src[i])) {
				i++
			}
		}
	}
	text := src[start:i]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, 0, fmt.Errorf("%w: invalid number %q at %d",
			ErrSyntax, text, start)
	}
	return token{kind: tokNumber, text: text, num: n, pos: start}, i, nil
}

func scanString(src string, start int) (token, int, error) {
	quote := src[start]
	var sb strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return token{kind: tokString, text: sb.String(), pos: start}, i + 1, nil
		case c == '\\':
			if i+1 >= len(src) {
				return token{}, 0, fmt.Errorf("%w: unterminated string at %d",
					ErrSyntax, start)
			}
			i++
			switch e := src[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'u':
				if i+4 >= len(src) {
					return token{}, 0, fmt.Errorf("%w: bad unicode escape at %d",
						ErrSyntax, i)
				}
				v, err := strconv.ParseUint(src[i+1:i+5], 16, 32)
				if err != nil {
					return token{}, 0, fmt.Errorf("%w: bad unicode escape at %d",
						ErrSyntax, i)
				}
				sb.WriteRune(rune(v))
				i += 4
			default:
				sb.WriteByte(e)
			}
			i++
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return token{}, 0, fmt.Errorf("%w: unterminated string at %d",
		ErrSyntax, start)
}

func isIdentStart(r rune) bool {
	return r == '$' || r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
