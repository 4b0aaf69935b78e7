package expressions

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/quotekit/quotekit/pkg/schema"
)

// ArithExpr is a parsed arithmetic expression: literals, identifiers,
// binary + - * / ^, unary minus, and parenthesized groups. Evaluation is
// pure and deterministic: the same expression and environment always
// produce the identical result, which pricing relies on because estimates
// are recomputed every time an earlier answer changes.
type ArithExpr struct {
	Source string
	root   arithNode
}

// EnvFunc resolves an identifier to its numeric value.
type EnvFunc func(name string) (float64, error)

// MapEnv adapts a plain map to an EnvFunc. Unknown names yield an
// EVAL_ERROR with the UNKNOWN_VARIABLE detail code.
func MapEnv(env map[string]float64) EnvFunc {
	return func(name string) (float64, error) {
		v, ok := env[name]
		if !ok {
			return 0, schema.NewErrorf(schema.ErrCodeUnknownVariable,
				"unknown variable %q", name)
		}
		return v, nil
	}
}

// Eval evaluates the expression against a name→number environment.
func (e *ArithExpr) Eval(env map[string]float64) (float64, error) {
	return e.root.eval(MapEnv(env))
}

// EvalFunc evaluates the expression resolving identifiers through fn.
func (e *ArithExpr) EvalFunc(fn EnvFunc) (float64, error) {
	return e.root.eval(fn)
}

// Identifiers returns the distinct identifiers referenced, in first-use order.
func (e *ArithExpr) Identifiers() []string {
	seen := make(map[string]bool)
	var out []string
	collectIdents(e.root, seen, &out)
	return out
}

func collectIdents(n arithNode, seen map[string]bool, out *[]string) {
	switch v := n.(type) {
	case identNode:
		if !seen[v.name] {
			seen[v.name] = true
			*out = append(*out, v.name)
		}
	case unaryNode:
		collectIdents(v.x, seen, out)
	case binNode:
		collectIdents(v.lhs, seen, out)
		collectIdents(v.rhs, seen, out)
	}
}

// --- AST ---

type arithNode interface {
	eval(env EnvFunc) (float64, error)
}

type litNode float64

func (n litNode) eval(EnvFunc) (float64, error) { return float64(n), nil }

type identNode struct {
	name string
}

func (n identNode) eval(env EnvFunc) (float64, error) { return env(n.name) }

type unaryNode struct {
	x arithNode
}

func (n unaryNode) eval(env EnvFunc) (float64, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binNode struct {
	op       byte
	lhs, rhs arithNode
}

func (n binNode) eval(env EnvFunc) (float64, error) {
	l, err := n.lhs.eval(env)
	if err != nil {
		return 0, err
	}
	r, err := n.rhs.eval(env)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, schema.NewError(schema.ErrCodeDivisionByZero, "division by zero")
		}
		return l / r, nil
	case '^':
		return math.Pow(l, r), nil
	}
	return 0, schema.NewErrorf(schema.ErrCodeEval, "unknown operator %q", string(n.op))
}

// --- Tokenizer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			seenDot := false
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				if src[i] == '.' {
					if seenDot {
						return nil, parseErrorf(i, "malformed number")
					}
					seenDot = true
				}
				i++
			}
			text := src[start:i]
			if text == "." {
				return nil, parseErrorf(start, "malformed number")
			}
			toks = append(toks, token{tokNumber, text, start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		case c == '+' || c == '-' || c == '*' || c == '/' || c == '^':
			toks = append(toks, token{tokOp, string(c), i})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		default:
			return nil, parseErrorf(i, "unexpected character %q", string(c))
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func parseErrorf(pos int, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeValidation, format, args...).
		WithDetails(map[string]any{"position": pos})
}

// --- Parser ---

// Precedence, highest to lowest binding: parens; ^ (right-associative);
// unary minus; * / (left-associative); + - (left-associative).
//
//	expr    := term (('+'|'-') term)*
//	term    := unary (('*'|'/') unary)*
//	unary   := '-' unary | power
//	power   := primary ('^' unary)?
//	primary := NUMBER | IDENT | '(' expr ')'
type parser struct {
	toks []token
	pos  int
}

// ParseArith parses an arithmetic expression into an evaluable AST.
func ParseArith(src string) (*ArithExpr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, parseErrorf(tok.pos, "unexpected token %q", tok.text)
	}
	return &ArithExpr{Source: src, root: root}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (arithNode, error) {
	lhs, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		lhs = binNode{op: tok.text[0], lhs: lhs, rhs: rhs}
	}
}

func (p *parser) parseTerm() (arithNode, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "*" && tok.text != "/") {
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = binNode{op: tok.text[0], lhs: lhs, rhs: rhs}
	}
}

func (p *parser) parseUnary() (arithNode, error) {
	if tok := p.peek(); tok.kind == tokOp && tok.text == "-" {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{x: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (arithNode, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind == tokOp && tok.text == "^" {
		p.next()
		// Right-associative: the exponent is parsed at unary level so that
		// 2^3^2 == 2^(3^2) and 2^-1 is accepted.
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binNode{op: '^', lhs: base, rhs: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (arithNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, parseErrorf(tok.pos, "malformed number %q", tok.text)
		}
		return litNode(v), nil
	case tokIdent:
		return identNode{name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, parseErrorf(closing.pos, "missing closing parenthesis")
		}
		return inner, nil
	case tokEOF:
		return nil, parseErrorf(tok.pos, "unexpected end of expression")
	default:
		return nil, parseErrorf(tok.pos, "unexpected token %q", tok.text)
	}
}

// --- Engine ---

// ArithEngine implements the Engine interface for the arithmetic grammar.
// Thread-safe: parsed ASTs are cached and reused across goroutines.
type ArithEngine struct {
	mu    sync.RWMutex
	cache map[string]*ArithExpr
}

// NewArithEngine creates a new arithmetic expression engine.
func NewArithEngine() *ArithEngine {
	return &ArithEngine{cache: make(map[string]*ArithExpr)}
}

// Name returns the engine identifier.
func (e *ArithEngine) Name() string { return "arith" }

// Parse returns the cached AST for the expression, parsing it on first use.
func (e *ArithEngine) Parse(src string) (*ArithExpr, error) {
	e.mu.RLock()
	if expr, ok := e.cache[src]; ok {
		e.mu.RUnlock()
		return expr, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if expr, ok := e.cache[src]; ok {
		return expr, nil
	}

	expr, err := ParseArith(src)
	if err != nil {
		return nil, err
	}
	e.cache[src] = expr
	return expr, nil
}

// Evaluate parses (or retrieves from cache) an arithmetic expression and
// evaluates it against the data map. Numeric values are used directly and
// booleans coerce to 0/1; any other value type is rejected.
func (e *ArithEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty arithmetic expression")
	}
	expr, err := e.Parse(expression)
	if err != nil {
		return nil, err
	}
	return expr.EvalFunc(func(name string) (float64, error) {
		v, ok := data[name]
		if !ok {
			return 0, schema.NewErrorf(schema.ErrCodeUnknownVariable,
				"unknown variable %q", name)
		}
		return ToNumber(name, v)
	})
}

// ToNumber coerces an environment value to float64: numbers pass through
// and booleans become 0/1.
func ToNumber(name string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, schema.NewErrorf(schema.ErrCodeEval,
			"variable %q is not numeric (%T)", name, v)
	}
}

var _ Engine = (*ArithEngine)(nil)
