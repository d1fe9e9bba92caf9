// Completion: 95% - Structured predicates and the textual query form
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Predicate selects templates
type Predicate interface {
	Match(t *Template) bool
}

// Field is a template property a condition tests
type Field int

const (
	FieldMnemonic Field = iota
	FieldClass
	FieldLatency
	FieldSlots
	FieldAttr
)

func (f Field) String() string {
	switch f {
	case FieldMnemonic:
		return "mnemonic"
	case FieldClass:
		return "class"
	case FieldLatency:
		return "latency"
	case FieldSlots:
		return "slots"
	case FieldAttr:
		return "attr"
	default:
		return "unknown"
	}
}

func (f Field) numeric() bool {
	return f == FieldLatency || f == FieldSlots
}

// Op is a comparison operator
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpPrefix   // ^=
	OpContains // ~=
)

var opText = map[Op]string{
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=", OpPrefix: "^=", OpContains: "~=",
}

func (o Op) String() string {
	return opText[o]
}

// Cond compares one template field with a value
type Cond struct {
	Field Field
	Attr  string // attribute key when Field is FieldAttr
	Op    Op
	Value string
}

// Where builds a condition on a field
func Where(field Field, op Op, value any) Cond {
	return Cond{Field: field, Op: op, Value: fmt.Sprint(value)}
}

// Attr builds a condition on a template attribute
func Attr(key string, op Op, value any) Cond {
	return Cond{Field: FieldAttr, Attr: key, Op: op, Value: fmt.Sprint(value)}
}

func (c Cond) Match(t *Template) bool {
	if c.Field.numeric() {
		want, err := strconv.Atoi(c.Value)
		if err != nil {
			return false
		}
		got := t.Latency
		if c.Field == FieldSlots {
			got = len(t.Slots)
		}
		return compareInts(got, want, c.Op)
	}

	var got string
	switch c.Field {
	case FieldMnemonic:
		got = t.Mnemonic
	case FieldClass:
		got = t.Class
	case FieldAttr:
		v, ok := t.Attributes[c.Attr]
		if !ok {
			return c.Op == OpNe
		}
		got = v
	}
	return compareStrings(strings.ToLower(got), strings.ToLower(c.Value), c.Op)
}

func (c Cond) String() string {
	name := c.Field.String()
	if c.Field == FieldAttr {
		name = "attr." + c.Attr
	}
	return fmt.Sprintf("%s %s %s", name, c.Op, c.Value)
}

func compareInts(got, want int, op Op) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpLt:
		return got < want
	case OpLe:
		return got <= want
	case OpGt:
		return got > want
	case OpGe:
		return got >= want
	default:
		return false
	}
}

func compareStrings(got, want string, op Op) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpLt:
		return got < want
	case OpLe:
		return got <= want
	case OpGt:
		return got > want
	case OpGe:
		return got >= want
	case OpPrefix:
		return strings.HasPrefix(got, want)
	case OpContains:
		return strings.Contains(got, want)
	default:
		return false
	}
}

type andPredicate []Predicate

func (ps andPredicate) Match(t *Template) bool {
	for _, p := range ps {
		if !p.Match(t) {
			return false
		}
	}
	return true
}

func (ps andPredicate) String() string { return joinPredicates(ps, " && ") }

type orPredicate []Predicate

func (ps orPredicate) Match(t *Template) bool {
	for _, p := range ps {
		if p.Match(t) {
			return true
		}
	}
	return false
}

func (ps orPredicate) String() string { return joinPredicates(ps, " || ") }

type notPredicate struct{ p Predicate }

func (n notPredicate) Match(t *Template) bool { return !n.p.Match(t) }

func (n notPredicate) String() string { return fmt.Sprintf("!(%v)", n.p) }

// And matches when every predicate matches
func And(ps ...Predicate) Predicate { return andPredicate(ps) }

// Or matches when any predicate matches
func Or(ps ...Predicate) Predicate { return orPredicate(ps) }

// Not inverts a predicate
func Not(p Predicate) Predicate { return notPredicate{p} }

func joinPredicates(ps []Predicate, sep string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprint(p)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// ParseQuery parses the textual query form:
//
//	expr := and ('||' and)*
//	and  := unary ('&&' unary)*
//	unary:= '!' unary | '(' expr ')' | field op value
//	field: mnemonic, class, latency, slots, attr.<key>
//	op:    == != < <= > >= ^= ~=
//
// An empty string yields a nil predicate, which matches everything.
func ParseQuery(s string) (Predicate, error) {
	toks, err := lexQuery(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	qp := &queryParser{toks: toks}
	p, err := qp.parseOr()
	if err != nil {
		return nil, err
	}
	if qp.pos < len(qp.toks) {
		return nil, fmt.Errorf("unexpected %q in query", qp.toks[qp.pos].text)
	}
	return p, nil
}

type queryTokenKind int

const (
	qtWord queryTokenKind = iota
	qtOp
	qtAnd
	qtOr
	qtNot
	qtLParen
	qtRParen
)

type queryToken struct {
	kind queryTokenKind
	text string
}

func lexQuery(s string) ([]queryToken, error) {
	var toks []queryToken
	i := 0
	for i < len(s) {
		ch := rune(s[i])
		switch {
		case unicode.IsSpace(ch):
			i++
		case strings.HasPrefix(s[i:], "&&"):
			toks = append(toks, queryToken{qtAnd, "&&"})
			i += 2
		case strings.HasPrefix(s[i:], "||"):
			toks = append(toks, queryToken{qtOr, "||"})
			i += 2
		case ch == '(':
			toks = append(toks, queryToken{qtLParen, "("})
			i++
		case ch == ')':
			toks = append(toks, queryToken{qtRParen, ")"})
			i++
		case strings.ContainsRune("=!<>^~", ch):
			if i+1 < len(s) && s[i+1] == '=' {
				toks = append(toks, queryToken{qtOp, s[i : i+2]})
				i += 2
			} else if ch == '<' || ch == '>' {
				toks = append(toks, queryToken{qtOp, s[i : i+1]})
				i++
			} else if ch == '!' {
				toks = append(toks, queryToken{qtNot, "!"})
				i++
			} else {
				return nil, fmt.Errorf("bad operator at offset %d in query %q", i, s)
			}
		case ch == '"' || ch == '\'':
			end := strings.IndexByte(s[i+1:], byte(ch))
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in query %q", s)
			}
			toks = append(toks, queryToken{qtWord, s[i+1 : i+1+end]})
			i += end + 2
		default:
			start := i
			for i < len(s) && !unicode.IsSpace(rune(s[i])) && !strings.ContainsRune("=!<>^~()&|", rune(s[i])) {
				i++
			}
			if start == i {
				return nil, fmt.Errorf("unexpected %q in query %q", s[i], s)
			}
			toks = append(toks, queryToken{qtWord, s[start:i]})
		}
	}
	return toks, nil
}

type queryParser struct {
	toks []queryToken
	pos  int
}

func (qp *queryParser) peek() (queryToken, bool) {
	if qp.pos >= len(qp.toks) {
		return queryToken{}, false
	}
	return qp.toks[qp.pos], true
}

func (qp *queryParser) parseOr() (Predicate, error) {
	left, err := qp.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Predicate{left}
	for {
		tok, ok := qp.peek()
		if !ok || tok.kind != qtOr {
			break
		}
		qp.pos++
		right, err := qp.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return Or(terms...), nil
}

func (qp *queryParser) parseAnd() (Predicate, error) {
	left, err := qp.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Predicate{left}
	for {
		tok, ok := qp.peek()
		if !ok || tok.kind != qtAnd {
			break
		}
		qp.pos++
		right, err := qp.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return And(terms...), nil
}

func (qp *queryParser) parseUnary() (Predicate, error) {
	tok, ok := qp.peek()
	if !ok {
		return nil, fmt.Errorf("query ends early")
	}
	switch tok.kind {
	case qtNot:
		qp.pos++
		p, err := qp.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not(p), nil
	case qtLParen:
		qp.pos++
		p, err := qp.parseOr()
		if err != nil {
			return nil, err
		}
		if tok, ok := qp.peek(); !ok || tok.kind != qtRParen {
			return nil, fmt.Errorf("missing ) in query")
		}
		qp.pos++
		return p, nil
	case qtWord:
		return qp.parseCond()
	default:
		return nil, fmt.Errorf("unexpected %q in query", tok.text)
	}
}

func (qp *queryParser) parseCond() (Predicate, error) {
	if qp.pos+2 >= len(qp.toks) {
		return nil, fmt.Errorf("incomplete condition in query")
	}
	name, opTok, value := qp.toks[qp.pos], qp.toks[qp.pos+1], qp.toks[qp.pos+2]
	if opTok.kind != qtOp || value.kind != qtWord {
		return nil, fmt.Errorf("expected <field> <op> <value> near %q", name.text)
	}
	qp.pos += 3

	var op Op = -1
	for o, text := range opText {
		if text == opTok.text {
			op = o
		}
	}
	if op < 0 {
		return nil, fmt.Errorf("unknown operator %q", opTok.text)
	}

	field := strings.ToLower(name.text)
	switch {
	case field == "mnemonic":
		return Where(FieldMnemonic, op, value.text), nil
	case field == "class":
		return Where(FieldClass, op, value.text), nil
	case field == "latency":
		return Where(FieldLatency, op, value.text), nil
	case field == "slots":
		return Where(FieldSlots, op, value.text), nil
	case strings.HasPrefix(field, "attr."):
		return Attr(name.text[len("attr."):], op, value.text), nil
	default:
		return nil, fmt.Errorf("unknown query field %q", name.text)
	}
}
