package tokenizer

import (
	"errors"
	"strings"

	"github.com/shapestone/shape-core/pkg/tokenizer"
)

// ErrInvalidList is returned when a header value is not a valid element list.
var ErrInvalidList = errors.New("invalid header element list")

// NewTokenizer creates a tokenizer for header element lists (RFC 9110 §5.6.1).
// Matchers, in priority order:
// 1. Comma (list separator)
// 2. OWS (space and horizontal tab)
// 3. Element (everything else up to a comma or whitespace)
//
// Whitespace is significant for validation, so the default whitespace skipper
// is not used.
func NewTokenizer() tokenizer.Tokenizer {
	return tokenizer.NewTokenizerWithoutWhitespace(
		tokenizer.StringMatcherFunc(TokenComma, ","),
		OWSMatcher(),
		ElementMatcher(),
	)
}

// OWSMatcher matches a run of SP / HTAB.
func OWSMatcher() tokenizer.Matcher {
	return func(stream tokenizer.Stream) *tokenizer.Token {
		var value []rune
		for {
			r, ok := stream.PeekChar()
			if !ok || (r != ' ' && r != '\t') {
				break
			}
			stream.NextChar()
			value = append(value, r)
		}
		if len(value) == 0 {
			return nil
		}
		return tokenizer.NewToken(TokenOWS, value)
	}
}

// ElementMatcher matches a list member: visible characters up to a comma or
// whitespace. Control characters never match, which leaves the tokenizer
// short of end-of-stream.
func ElementMatcher() tokenizer.Matcher {
	return func(stream tokenizer.Stream) *tokenizer.Token {
		var value []rune
		for {
			r, ok := stream.PeekChar()
			if !ok || r == ',' || r == ' ' || r == '\t' || r < ' ' || r == 0x7f {
				break
			}
			stream.NextChar()
			value = append(value, r)
		}
		if len(value) == 0 {
			return nil
		}
		return tokenizer.NewToken(TokenElement, value)
	}
}

// Elements splits a header value into its lower-cased list members. Empty
// members ("a,,b") are skipped as the list grammar allows.
func Elements(value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	tok := NewTokenizer()
	tok.Initialize(value)

	tokens, eos := tok.Tokenize()
	if !eos {
		return nil, ErrInvalidList
	}

	var out []string
	for _, t := range tokens {
		if t.Kind() == TokenElement {
			out = append(out, strings.ToLower(t.ValueString()))
		}
	}
	return out, nil
}

// ElementsOf collects the members of every value, in order.
func ElementsOf(values []string) ([]string, error) {
	var out []string
	for _, v := range values {
		elems, err := Elements(v)
		if err != nil {
			return nil, err
		}
		out = append(out, elems...)
	}
	return out, nil
}

// Contains reports whether any value lists the member (case-insensitive).
func Contains(values []string, member string) bool {
	elems, err := ElementsOf(values)
	if err != nil {
		return false
	}
	for _, e := range elems {
		if strings.EqualFold(e, member) {
			return true
		}
	}
	return false
}
