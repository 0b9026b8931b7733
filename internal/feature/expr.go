package feature

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Node is a compiled boolean expression.
type Node interface {
	node()
}

// Logical is AND / OR.
type Logical struct {
	Op          string
	Left, Right Node
}

// Not negates its operand.
type Not struct {
	X Node
}

// Compare is <field> <op> <literal>. The left side is always a field.
type Compare struct {
	Field string
	Op    Operator
	Value any
	re    *regexp.Regexp
}

func (*Logical) node() {}
func (*Not) node()     {}
func (*Compare) node() {}

type tokKind int

const (
	tIdent tokKind = iota
	tOp
	tString
	tNumber
	tBool
	tLParen
	tRParen
	tEOF
)

type tok struct {
	kind tokKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
	out []tok
}

func (lx *lexer) emit(k tokKind, text string, pos int) {
	lx.out = append(lx.out, tok{kind: k, text: text, pos: pos})
}

func lex(src string) ([]tok, error) {
	lx := &lexer{src: src}
	for lx.pos < len(src) {
		start := lx.pos
		ch := src[lx.pos]
		switch {
		case unicode.IsSpace(rune(ch)):
			lx.pos++
		case ch == '(':
			lx.emit(tLParen, "(", start)
			lx.pos++
		case ch == ')':
			lx.emit(tRParen, ")", start)
			lx.pos++
		case strings.ContainsRune("=!<>", rune(ch)):
			if lx.pos+1 < len(src) && src[lx.pos+1] == '=' {
				lx.pos += 2
			} else {
				lx.pos++
			}
			lx.emit(tOp, src[start:lx.pos], start)
		case ch == '"' || ch == '\'':
			s, err := lx.quoted(ch)
			if err != nil {
				return nil, err
			}
			lx.emit(tString, s, start)
		case unicode.IsDigit(rune(ch)) || (ch == '-' && lx.pos+1 < len(src) && unicode.IsDigit(rune(src[lx.pos+1]))):
			lx.pos++
			for lx.pos < len(src) && (unicode.IsDigit(rune(src[lx.pos])) || src[lx.pos] == '.') {
				lx.pos++
			}
			lx.emit(tNumber, src[start:lx.pos], start)
		case unicode.IsLetter(rune(ch)) || ch == '_':
			for lx.pos < len(src) && (unicode.IsLetter(rune(src[lx.pos])) || unicode.IsDigit(rune(src[lx.pos])) || src[lx.pos] == '_') {
				lx.pos++
			}
			word := src[start:lx.pos]
			if w := strings.ToLower(word); w == "true" || w == "false" {
				lx.emit(tBool, w, start)
			} else {
				lx.emit(tIdent, word, start)
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", ch, start)
		}
	}
	lx.emit(tEOF, "", len(src))
	return lx.out, nil
}

func (lx *lexer) quoted(q byte) (string, error) {
	start := lx.pos
	var b strings.Builder
	lx.pos++
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\\' && lx.pos+1 < len(lx.src):
			b.WriteByte(lx.src[lx.pos+1])
			lx.pos += 2
		case c == q:
			lx.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			lx.pos++
		}
	}
	return "", fmt.Errorf("unterminated string at %d", start)
}

type parser struct {
	toks []tok
	i    int
}

func (p *parser) peek() tok { return p.toks[p.i] }
func (p *parser) next() tok {
	t := p.toks[p.i]
	p.i++
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tIdent && strings.EqualFold(t.text, kw)
}

// Compile parses src and checks every field reference and regex literal.
func Compile(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
	return n, nil
}

func (p *parser) or() (Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) unary() (Node, error) {
	if p.keyword("NOT") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	}
	if p.peek().kind == tLParen {
		p.next()
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tRParen {
			return nil, fmt.Errorf("expected ) at %d, got %q", t.pos, t.text)
		}
		return x, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Node, error) {
	ft := p.next()
	if ft.kind != tIdent {
		return nil, fmt.Errorf("expected field name at %d, got %q", ft.pos, ft.text)
	}
	field := strings.ToLower(ft.text)
	kind, ok := fields[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", ft.text)
	}

	ot := p.next()
	var op Operator
	switch {
	case ot.kind == tOp:
		op = Operator(ot.text)
	case ot.kind == tIdent:
		op = Operator(strings.ToLower(ot.text))
	}
	if !op.valid() {
		return nil, fmt.Errorf("expected operator after %s, got %q", field, ot.text)
	}

	vt := p.next()
	var val any
	switch vt.kind {
	case tString:
		val = vt.text
	case tNumber:
		f, err := strconv.ParseFloat(vt.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", vt.text)
		}
		val = f
	case tBool:
		val = vt.text == "true"
	default:
		return nil, fmt.Errorf("expected literal at %d, got %q", vt.pos, vt.text)
	}

	c := &Compare{Field: field, Op: op, Value: val}
	if err := c.check(kind); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Compare) check(kind fieldKind) error {
	switch c.Op {
	case OpGt, OpGte, OpLt, OpLte:
		if kind != kindNumber {
			return fmt.Errorf("%s %s: field is not numeric", c.Field, c.Op)
		}
		if _, ok := c.Value.(float64); !ok {
			return fmt.Errorf("%s %s: literal must be a number", c.Field, c.Op)
		}
	case OpContains, OpMatches:
		if kind != kindString {
			return fmt.Errorf("%s %s: field is not text", c.Field, c.Op)
		}
		s, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("%s %s: literal must be a string", c.Field, c.Op)
		}
		if c.Op == OpMatches {
			re, err := regexp.Compile(s)
			if err != nil {
				return fmt.Errorf("%s matches: %w", c.Field, err)
			}
			c.re = re
		}
	}
	return nil
}
