package callparse

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrNotLiteral is returned by Literal when the token is not a literal.
var ErrNotLiteral = errors.New("callparse: not a literal")

// Caster converts a raw token that failed literal evaluation. ok is false
// when the token does not have the caster's shape.
type Caster func(token string) (v any, ok bool)

// Casters are tried in order on tokens that are not literals.
var Casters = []Caster{CastDateTime, CastUUID}

// Eval evaluates a single argument token: literal first, then each caster,
// then the raw token.
func Eval(token string) any {
	token = strings.TrimSpace(token)
	if v, err := Literal(token); err == nil {
		return v
	}
	for _, cast := range Casters {
		if v, ok := cast(token); ok {
			return v
		}
	}
	return token
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CastDateTime parses ISO-8601 dates and date-times.
func CastDateTime(token string) (any, bool) {
	if len(token) < len("2006-01-02") {
		return nil, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			return t, true
		}
	}
	return nil, false
}

// CastUUID parses canonical UUID strings.
func CastUUID(token string) (any, bool) {
	if len(token) != 36 {
		return nil, false
	}
	id, err := uuid.Parse(token)
	if err != nil {
		return nil, false
	}
	return id, true
}

// Literal evaluates token as a literal: numbers, quoted strings, lists,
// tuples, dicts, sets, booleans and None. The whole token must be
// consumed.
//
// Lists, tuples and sets evaluate to []any, dicts to map[string]any
// (non-string keys are formatted with fmt.Sprint), integers to int64 and
// other numbers to float64.
func Literal(token string) (any, error) {
	p := &literalParser{src: token}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return v, nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrNotLiteral, fmt.Sprintf(format, args...), p.pos)
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *literalParser) value() (any, error) {
	switch c := p.peek(); {
	case c == 0:
		return nil, p.errorf("unexpected end of input")
	case c == '\'' || c == '"':
		return p.str()
	case c == '[':
		p.pos++
		items, _, err := p.sequence(']')
		return items, err
	case c == '(':
		p.pos++
		items, trailing, err := p.sequence(')')
		if err != nil {
			return nil, err
		}
		// (x) is a parenthesised expression, (x,) a one-element tuple.
		if len(items) == 1 && !trailing {
			return items[0], nil
		}
		return items, nil
	case c == '{':
		p.pos++
		return p.braces()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.keyword()
	}
}

func (p *literalParser) keyword() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	switch word := p.src[start:p.pos]; word {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	default:
		p.pos = start
		return nil, p.errorf("unknown name %q", word)
	}
}

func (p *literalParser) number() (any, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	digits := 0
	isFloat := false
scan:
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '_' && digits > 0:
		case c == '.' && !isFloat:
			isFloat = true
		case (c == 'e' || c == 'E') && digits > 0:
			isFloat = true
			if n := p.pos + 1; n < len(p.src) && (p.src[n] == '-' || p.src[n] == '+') {
				p.pos++
			}
		default:
			break scan
		}
		p.pos++
	}
	if digits == 0 {
		p.pos = start
		return nil, p.errorf("malformed number")
	}

	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if !isFloat {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		p.pos = start
		return nil, p.errorf("malformed number %q", text)
	}
	if math.IsInf(f, 0) {
		p.pos = start
		return nil, p.errorf("number out of range %q", text)
	}
	return f, nil
}

func (p *literalParser) str() (any, error) {
	quote := p.src[p.pos]
	p.pos++

	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case quote:
			p.pos++
			return sb.String(), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.errorf("unterminated escape")
			}
			esc := p.src[p.pos]
			p.pos++
			switch esc {
			case '\\', '\'', '"':
				sb.WriteByte(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'u':
				if p.pos+4 > len(p.src) {
					return nil, p.errorf("short unicode escape")
				}
				n, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
				if err != nil {
					return nil, p.errorf("bad unicode escape")
				}
				sb.WriteRune(rune(n))
				p.pos += 4
			default:
				// Unknown escapes keep the backslash.
				sb.WriteByte('\\')
				sb.WriteByte(esc)
			}
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			sb.WriteRune(r)
			p.pos += size
		}
	}
	return nil, p.errorf("unterminated string")
}

// sequence parses comma separated values up to the closing byte. trailing
// reports whether the last element was followed by a comma.
func (p *literalParser) sequence(closing byte) ([]any, bool, error) {
	items := []any{}
	trailing := false
	for {
		p.skipSpace()
		if p.peek() == closing {
			p.pos++
			return items, trailing, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, false, err
		}
		items = append(items, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			trailing = true
		case closing:
			trailing = false
		default:
			return nil, false, p.errorf("expected ',' or %q", closing)
		}
	}
}

// braces parses a dict or a set; the opening brace is consumed.
func (p *literalParser) braces() (any, error) {
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return map[string]any{}, nil
	}

	first, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()

	if p.peek() != ':' {
		return p.setFrom(first)
	}

	dict := map[string]any{}
	key := first
	for {
		p.pos++ // ':'
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		dict[dictKey(key)] = v

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == '}' {
				p.pos++
				return dict, nil
			}
			if key, err = p.value(); err != nil {
				return nil, err
			}
			p.skipSpace()
			if p.peek() != ':' {
				return nil, p.errorf("expected ':' in dict")
			}
		case '}':
			p.pos++
			return dict, nil
		default:
			return nil, p.errorf("expected ',' or '}' in dict")
		}
	}
}

func (p *literalParser) setFrom(first any) (any, error) {
	items := []any{first}
	for {
		switch p.peek() {
		case '}':
			p.pos++
			return dedupe(items), nil
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == '}' {
				continue
			}
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			items = append(items, v)
			p.skipSpace()
		default:
			return nil, p.errorf("expected ',' or '}' in set")
		}
	}
}

func dictKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}

// dedupe removes repeated scalar members, keeping first occurrences.
func dedupe(items []any) []any {
	seen := make(map[any]bool, len(items))
	out := items[:0]
	for _, it := range items {
		switch it.(type) {
		case []any, map[string]any:
			out = append(out, it)
			continue
		}
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
