// Package callparse parses the compact method-call strings that templates
// attach to elements, such as
//
//	increment
//	set_name("World")
//	add(1, 'two', [3, 4], scale=2.5)
//	$reset
//	$toggle('done', 'archived')
//
// Arguments are evaluated as literals. Tokens that are not literals are
// tried as an ISO-8601 date/time and then as a UUID; anything else is kept
// as the raw token string so unresolved template variables pass through.
package callparse

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKwarg is returned by ParseKwarg when the input is not a
// key=value pair. Callers treat the token as a positional argument instead.
var ErrInvalidKwarg = errors.New("callparse: invalid kwarg")

// ErrInvalidCall is returned when a call string is malformed, for example
// when the parentheses do not balance.
var ErrInvalidCall = errors.New("callparse: invalid call")

// ParseCall splits a call string into the method name and its positional
// and keyword arguments. Names beginning with "$" without parentheses are
// returned untouched.
func ParseCall(s string) (name string, args []any, kwargs map[string]any, err error) {
	s = strings.TrimSpace(s)
	kwargs = map[string]any{}

	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "" {
			return "", nil, nil, fmt.Errorf("%w: empty method name", ErrInvalidCall)
		}
		return s, []any{}, kwargs, nil
	}

	if !strings.HasSuffix(s, ")") {
		return "", nil, nil, fmt.Errorf("%w: %q is missing a closing parenthesis", ErrInvalidCall, s)
	}

	name = strings.TrimSpace(s[:open])
	if name == "" || strings.ContainsAny(name, `'"`) {
		return "", nil, nil, fmt.Errorf("%w: %q has no method name", ErrInvalidCall, s)
	}

	args, kwargs, err = ParseArgs(s[open+1 : len(s)-1])
	if err != nil {
		return "", nil, nil, err
	}
	return name, args, kwargs, nil
}

// ParseArgs parses a comma separated argument list (the text between the
// parentheses of a call).
func ParseArgs(s string) (args []any, kwargs map[string]any, err error) {
	args = []any{}
	kwargs = map[string]any{}

	tokens, err := SplitArgs(s)
	if err != nil {
		return nil, nil, err
	}

	for _, tok := range tokens {
		if key, val, kerr := ParseKwarg(tok); kerr == nil {
			kwargs[key] = val
			continue
		} else if !errors.Is(kerr, ErrInvalidKwarg) {
			return nil, nil, kerr
		}
		args = append(args, Eval(tok))
	}
	return args, kwargs, nil
}

// ParseKwarg parses "key=value". It returns ErrInvalidKwarg when there is no
// top-level "=" or the key is not a bare name.
func ParseKwarg(s string) (key string, value any, err error) {
	idx := assignIndex(s)
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidKwarg, s)
	}

	key = strings.TrimSpace(s[:idx])
	if key == "" || strings.ContainsAny(key, `'"`) || !isName(key) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidKwarg, s)
	}

	return key, Eval(strings.TrimSpace(s[idx+1:])), nil
}

// SplitArgs splits s on commas that are not nested inside brackets, braces,
// parentheses or quoted strings. Empty trailing tokens are dropped.
func SplitArgs(s string) ([]string, error) {
	var (
		tokens []string
		depth  int
		quote  byte
		start  int
	)

	for i := 0; i < len(s); i++ {
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
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced %q in %q", ErrInvalidCall, c, s)
			}
		case ',':
			if depth == 0 {
				tokens = append(tokens, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated string in %q", ErrInvalidCall, s)
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced brackets in %q", ErrInvalidCall, s)
	}

	if last := strings.TrimSpace(s[start:]); last != "" {
		tokens = append(tokens, last)
	}

	out := tokens[:0]
	for _, tok := range tokens {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out, nil
}

// assignIndex finds the first top-level "=" that is a plain assignment
// (not part of ==, <=, >= or !=).
func assignIndex(s string) int {
	var depth int
	var quote byte
	for i := 0; i < len(s); i++ {
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
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(s) && s[i+1] == '=' {
				return -1
			}
			if i > 0 && strings.IndexByte("<>!=", s[i-1]) >= 0 {
				return -1
			}
			return i
		}
	}
	return -1
}

func isName(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '.' && i > 0:
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
