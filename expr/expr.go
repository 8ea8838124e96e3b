// Package expr implements the restricted expression language used by
// workflow conditions. Expressions are parsed into a small whitelisted
// grammar and evaluated by a recursive-descent tree walk; there is no
// general code-execution capability.
//
// Supported forms:
//
//   - Literals: true, false, numbers, 'single' or "double" quoted strings
//   - Boolean operators: &&, ||, ! (&& and || short-circuit)
//   - Comparisons: ==, !=, <, <=, >, >=
//   - Parentheses for grouping
//   - Field access and integer indexing: step(generate).output.images[0]
//   - Lookup functions: step(id), shared(key)
//   - Predicates: equals, notEquals, greaterThan, lessThan, contains,
//     isEmpty, isDefined
//
// Bare identifiers outside a call position resolve against the shared
// context first and fall back to their literal name, so template-substituted
// values keep evaluating after ${...} expansion.
package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Env provides the runtime lookups an expression may reach
type Env struct {
	// Step resolves a step id to its result view
	// (a map with status, output, error and durationMs keys)
	Step func(id string) (any, bool)

	// Shared resolves a shared-context key
	Shared func(key string) (any, bool)
}

// Func is a predicate callable from expressions
type Func func(args []any) (any, error)

// Evaluator parses and evaluates condition expressions
type Evaluator struct {
	functions map[string]Func
}

// New creates an evaluator with the built-in predicate set
func New() *Evaluator {
	e := &Evaluator{functions: make(map[string]Func)}

	e.Register("equals", func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("equals() requires 2 arguments, got %d", len(args))
		}
		return looseEquals(args[0], args[1]), nil
	})
	e.Register("notEquals", func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("notEquals() requires 2 arguments, got %d", len(args))
		}
		return !looseEquals(args[0], args[1]), nil
	})
	e.Register("greaterThan", func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("greaterThan() requires 2 arguments, got %d", len(args))
		}
		return compareOrdered(args[0], args[1], ">")
	})
	e.Register("lessThan", func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("lessThan() requires 2 arguments, got %d", len(args))
		}
		return compareOrdered(args[0], args[1], "<")
	})
	e.Register("contains", func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains() requires 2 arguments, got %d", len(args))
		}
		return contains(args[0], args[1]), nil
	})
	e.Register("isEmpty", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("isEmpty() requires 1 argument, got %d", len(args))
		}
		return isEmpty(args[0]), nil
	})
	e.Register("isDefined", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("isDefined() requires 1 argument, got %d", len(args))
		}
		return args[0] != nil, nil
	})

	return e
}

// Register adds a predicate callable from expressions
func (e *Evaluator) Register(name string, fn Func) {
	e.functions[name] = fn
}

// Eval parses and evaluates an expression against the environment
func (e *Evaluator) Eval(input string, env Env) (any, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("tokenize %q: %w", input, err)
	}
	p := &parser{tokens: tokens, env: env, evaluator: e}
	result, err := p.parseExpression()
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", input, err)
	}
	if p.current().kind != tokenEOF {
		return nil, fmt.Errorf("evaluate %q: trailing input at %q", input, p.current().text)
	}
	return result, nil
}

// EvalBool evaluates an expression and requires a boolean result
func (e *Evaluator) EvalBool(input string, env Env) (bool, error) {
	result, err := e.Eval(input, env)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", input, result)
	}
	return b, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenBool
	tokenDot
	tokenComma
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenEQ
	tokenNE
	tokenLT
	tokenLE
	tokenGT
	tokenGE
	tokenAnd
	tokenOr
	tokenNot
)

type token struct {
	kind tokenKind
	text string
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '.':
			tokens = append(tokens, token{tokenDot, "."})
			i++
		case c == ',':
			tokens = append(tokens, token{tokenComma, ","})
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case c == '[':
			tokens = append(tokens, token{tokenLBracket, "["})
			i++
		case c == ']':
			tokens = append(tokens, token{tokenRBracket, "]"})
			i++
		case strings.HasPrefix(input[i:], "=="):
			tokens = append(tokens, token{tokenEQ, "=="})
			i += 2
		case strings.HasPrefix(input[i:], "!="):
			tokens = append(tokens, token{tokenNE, "!="})
			i += 2
		case strings.HasPrefix(input[i:], "<="):
			tokens = append(tokens, token{tokenLE, "<="})
			i += 2
		case strings.HasPrefix(input[i:], ">="):
			tokens = append(tokens, token{tokenGE, ">="})
			i += 2
		case strings.HasPrefix(input[i:], "&&"):
			tokens = append(tokens, token{tokenAnd, "&&"})
			i += 2
		case strings.HasPrefix(input[i:], "||"):
			tokens = append(tokens, token{tokenOr, "||"})
			i += 2
		case c == '<':
			tokens = append(tokens, token{tokenLT, "<"})
			i++
		case c == '>':
			tokens = append(tokens, token{tokenGT, ">"})
			i++
		case c == '!':
			tokens = append(tokens, token{tokenNot, "!"})
			i++
		case c == '"' || c == '\'':
			quote := c
			i++
			start := i
			for i < len(input) && input[i] != quote {
				i++
			}
			if i >= len(input) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{tokenString, input[start:i]})
			i++
		case c >= '0' && c <= '9':
			start := i
			for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokenNumber, input[start:i]})
		case isIdentChar(c):
			start := i
			for i < len(input) && isIdentChar(input[i]) {
				i++
			}
			text := input[start:i]
			if text == "true" || text == "false" {
				tokens = append(tokens, token{tokenBool, text})
			} else {
				tokens = append(tokens, token{tokenIdent, text})
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	tokens = append(tokens, token{kind: tokenEOF})
	return tokens, nil
}

type parser struct {
	tokens    []token
	pos       int
	env       Env
	evaluator *Evaluator

	// suppress > 0 while consuming an operand that a short-circuited
	// && or || already decided: syntax is still checked, but lookups,
	// predicates and type rules do not run
	suppress int
}

// skipOperand parses an operand for syntax only, discarding its value
func (p *parser) skipOperand(parse func() (any, error)) error {
	p.suppress++
	_, err := parse()
	p.suppress--
	return err
}

func (p *parser) current() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() {
	if p.pos < len(p.tokens) {
		p.pos++
	}
}

func (p *parser) expect(kind tokenKind) error {
	if p.current().kind != kind {
		return fmt.Errorf("unexpected token %q", p.current().text)
	}
	p.advance()
	return nil
}

// parseExpression parses the top-level expression; || binds loosest
func (p *parser) parseExpression() (any, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current().kind == tokenOr {
		p.advance()
		lb, lok := left.(bool)
		if !lok && p.suppress == 0 {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		if lb {
			// short-circuit: a true left side decides the result
			if err := p.skipOperand(p.parseAnd); err != nil {
				return nil, err
			}
			continue
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		rb, rok := right.(bool)
		if !rok && p.suppress == 0 {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		left = rb
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.current().kind == tokenAnd {
		p.advance()
		lb, lok := left.(bool)
		if !lok && p.suppress == 0 {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		if lok && !lb {
			// short-circuit: a false left side decides the result
			if err := p.skipOperand(p.parseNot); err != nil {
				return nil, err
			}
			continue
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		rb, rok := right.(bool)
		if !rok && p.suppress == 0 {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		left = rb
	}
	return left, nil
}

func (p *parser) parseNot() (any, error) {
	if p.current().kind == tokenNot {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		b, ok := operand.(bool)
		if !ok {
			if p.suppress > 0 {
				return false, nil
			}
			return nil, fmt.Errorf("! requires a boolean operand")
		}
		return !b, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch p.current().kind {
	case tokenEQ:
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return looseEquals(left, right), nil
	case tokenNE:
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return !looseEquals(left, right), nil
	case tokenLT, tokenLE, tokenGT, tokenGE:
		op := p.current().text
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		if p.suppress > 0 {
			return false, nil
		}
		return compareOrdered(left, right, op)
	}
	return left, nil
}

func (p *parser) parsePrimary() (any, error) {
	tok := p.current()
	var value any

	switch tok.kind {
	case tokenBool:
		p.advance()
		value = tok.text == "true"
	case tokenNumber:
		p.advance()
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", tok.text)
		}
		value = n
	case tokenString:
		p.advance()
		value = tok.text
	case tokenLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		value = inner
	case tokenIdent:
		v, err := p.parseIdent(tok.text)
		if err != nil {
			return nil, err
		}
		value = v
	default:
		return nil, fmt.Errorf("unexpected token %q", tok.text)
	}

	return p.parseAccess(value)
}

// parseIdent handles a call like step(id) / shared(key) / equals(a, b),
// or a bare identifier. Bare identifiers resolve against the shared
// context and fall back to their literal name.
func (p *parser) parseIdent(name string) (any, error) {
	p.advance()
	if p.current().kind != tokenLParen {
		if p.env.Shared != nil {
			if v, ok := p.env.Shared(name); ok {
				return v, nil
			}
		}
		return name, nil
	}
	p.advance() // consume '('

	var args []any
	if p.current().kind != tokenRParen {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current().kind != tokenComma {
				break
			}
			p.advance()
		}
	}
	if err := p.expect(tokenRParen); err != nil {
		return nil, err
	}

	switch name {
	case "step":
		if len(args) != 1 {
			return nil, fmt.Errorf("step() requires 1 argument, got %d", len(args))
		}
		id := fmt.Sprintf("%v", args[0])
		if p.env.Step == nil {
			return nil, nil
		}
		v, _ := p.env.Step(id)
		return v, nil
	case "shared":
		if len(args) != 1 {
			return nil, fmt.Errorf("shared() requires 1 argument, got %d", len(args))
		}
		key := fmt.Sprintf("%v", args[0])
		if p.env.Shared == nil {
			return nil, nil
		}
		v, _ := p.env.Shared(key)
		return v, nil
	}

	fn, ok := p.evaluator.functions[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	if p.suppress > 0 {
		return nil, nil
	}
	return fn(args)
}

// parseAccess applies postfix .field and [index] chains to a value
func (p *parser) parseAccess(value any) (any, error) {
	for {
		switch p.current().kind {
		case tokenDot:
			p.advance()
			if p.current().kind != tokenIdent {
				return nil, fmt.Errorf("expected field name after '.'")
			}
			field := p.current().text
			p.advance()
			value = accessField(value, field)
		case tokenLBracket:
			p.advance()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokenRBracket); err != nil {
				return nil, err
			}
			value = accessIndex(value, index)
		default:
			return value, nil
		}
	}
}

func accessField(value any, field string) any {
	m, ok := asMap(value)
	if !ok {
		return nil
	}
	return m[field]
}

func accessIndex(value any, index any) any {
	switch v := value.(type) {
	case []any:
		n, ok := toNumber(index)
		if !ok {
			return nil
		}
		i := int(n)
		if i < 0 || i >= len(v) {
			return nil
		}
		return v[i]
	case map[string]any:
		key, ok := index.(string)
		if !ok {
			return nil
		}
		return v[key]
	default:
		if m, ok := asMap(value); ok {
			return accessIndex(m, index)
		}
		return nil
	}
}

// asMap normalizes structured values through JSON so field access works
// on arbitrary step payloads
func asMap(value any) (map[string]any, bool) {
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	switch value.(type) {
	case nil, string, bool, float64, int, int64, []any:
		return nil, false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func looseEquals(left, right any) bool {
	if left == nil && right == nil {
		return true
	}
	if left == nil || right == nil {
		return false
	}
	if ln, lok := toNumber(left); lok {
		if rn, rok := toNumber(right); rok {
			return ln == rn
		}
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func compareOrdered(left, right any, op string) (bool, error) {
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	if lok && rok {
		switch op {
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return false, fmt.Errorf("cannot compare %T and %T with %s", left, right, op)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := needle.(string)
		if !ok {
			return false
		}
		_, exists := h[key]
		return exists
	default:
		return false
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
