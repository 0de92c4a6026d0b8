package query

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// ExprKind tags the node type of a filter expression.
type ExprKind int

const (
	ExprProperty ExprKind = iota + 1
	ExprLiteral
	ExprBinary
	ExprNot
	ExprCall
)

// FilterOperator is a binary operator in a filter expression.
type FilterOperator string

const (
	OpEqual              FilterOperator = "eq"
	OpNotEqual           FilterOperator = "ne"
	OpGreaterThan        FilterOperator = "gt"
	OpGreaterThanOrEqual FilterOperator = "ge"
	OpLessThan           FilterOperator = "lt"
	OpLessThanOrEqual    FilterOperator = "le"
	OpAnd                FilterOperator = "and"
	OpOr                 FilterOperator = "or"
)

var comparisonOperators = map[string]FilterOperator{
	"eq": OpEqual, "ne": OpNotEqual,
	"gt": OpGreaterThan, "ge": OpGreaterThanOrEqual,
	"lt": OpLessThan, "le": OpLessThanOrEqual,
}

// FilterExpression is a node of a parsed $filter predicate.
type FilterExpression struct {
	Kind     ExprKind
	Operator FilterOperator
	Left     *FilterExpression
	Right    *FilterExpression
	// Property is the field name of a property node.
	Property string
	// Value is the literal value: string, bool, nil, decimal.Decimal or time.Time.
	Value interface{}
	// Function and Args describe a call node.
	Function string
	Args     []*FilterExpression
}

func (e *FilterExpression) String() string {
	switch e.Kind {
	case ExprProperty:
		return e.Property
	case ExprLiteral:
		if s, ok := e.Value.(string); ok {
			return "'" + strings.ReplaceAll(s, "'", "''") + "'"
		}
		return fmt.Sprint(e.Value)
	case ExprBinary:
		return "(" + e.Left.String() + " " + string(e.Operator) + " " + e.Right.String() + ")"
	case ExprNot:
		return "not " + e.Left.String()
	case ExprCall:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.String()
		}
		return e.Function + "(" + strings.Join(args, ",") + ")"
	}
	return "?"
}

var knownFunctions = map[string]int{
	"startswith":  2,
	"endswith":    2,
	"substringof": 2,
	"contains":    2,
	"tolower":     1,
	"toupper":     1,
	"trim":        1,
	"length":      1,
	"isof":        1,
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokDateTime
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '\'':
			s, next, err := readQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: s, pos: i})
			i = next
		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			// OData type suffixes such as 1.5m or 10L
			if i < len(runes) && strings.ContainsRune("mMdDfFlL", runes[i]) {
				i++
			}
			text := strings.TrimRight(string(runes[start:i]), "mMdDfFlL")
			if text == "-" {
				return nil, fmt.Errorf("unexpected '-' at position %d", start)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '/' || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			if strings.EqualFold(text, "datetime") && i < len(runes) && runes[i] == '\'' {
				s, next, err := readQuoted(runes, i)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tokDateTime, text: s, pos: start})
				i = next
				continue
			}
			tokens = append(tokens, token{kind: tokIdent, text: text, pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})
	return tokens, nil
}

func readQuoted(runes []rune, start int) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(runes) {
		if runes[i] == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				b.WriteRune('\'')
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string literal at position %d", start)
}

type filterParser struct {
	tokens []token
	pos    int
}

// ParseFilter parses an OData $filter expression.
func ParseFilter(input string) (*FilterExpression, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &filterParser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", tok.text, tok.pos)
	}
	return expr, nil
}

func (p *filterParser) peek() token {
	return p.tokens[p.pos]
}

func (p *filterParser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *filterParser) peekKeyword(word string) bool {
	tok := p.peek()
	return tok.kind == tokIdent && strings.EqualFold(tok.text, word)
}

func (p *filterParser) parseOr() (*FilterExpression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &FilterExpression{Kind: ExprBinary, Operator: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseAnd() (*FilterExpression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &FilterExpression{Kind: ExprBinary, Operator: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseNot() (*FilterExpression, error) {
	if p.peekKeyword("not") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &FilterExpression{Kind: ExprNot, Left: inner}, nil
	}
	return p.parseComparison()
}

func (p *filterParser) parseComparison() (*FilterExpression, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if tok.kind != tokIdent {
		return left, nil
	}
	op, ok := comparisonOperators[strings.ToLower(tok.text)]
	if !ok {
		return left, nil
	}
	p.next()
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &FilterExpression{Kind: ExprBinary, Operator: op, Left: left, Right: right}, nil
}

func (p *filterParser) parsePrimary() (*FilterExpression, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at position %d", closing.pos)
		}
		return expr, nil
	case tokString:
		return &FilterExpression{Kind: ExprLiteral, Value: tok.text}, nil
	case tokNumber:
		d, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}
		return &FilterExpression{Kind: ExprLiteral, Value: d}, nil
	case tokDateTime:
		t, err := parseDateTime(tok.text)
		if err != nil {
			return nil, fmt.Errorf("invalid datetime %q at position %d", tok.text, tok.pos)
		}
		return &FilterExpression{Kind: ExprLiteral, Value: t}, nil
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return &FilterExpression{Kind: ExprLiteral, Value: true}, nil
		case "false":
			return &FilterExpression{Kind: ExprLiteral, Value: false}, nil
		case "null":
			return &FilterExpression{Kind: ExprLiteral, Value: nil}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(tok)
		}
		return &FilterExpression{Kind: ExprProperty, Property: tok.text}, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected token %q at position %d", tok.text, tok.pos)
}

func (p *filterParser) parseCall(name token) (*FilterExpression, error) {
	fn := strings.ToLower(name.text)
	arity, ok := knownFunctions[fn]
	if !ok {
		return nil, fmt.Errorf("unknown function %q at position %d", name.text, name.pos)
	}
	p.next()
	call := &FilterExpression{Kind: ExprCall, Function: fn}
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, fmt.Errorf("expected ')' at position %d", closing.pos)
	}
	if len(call.Args) != arity {
		return nil, fmt.Errorf("function %s expects %d arguments, got %d", fn, arity, len(call.Args))
	}
	return call, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseDateTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
