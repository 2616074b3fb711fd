package http

import "strconv"

// FramingKind says how the end of a message body is found.
type FramingKind uint8

const (
	FramingNone FramingKind = iota
	FramingLength
	FramingChunked
	FramingClose
)

func (k FramingKind) String() string {
	switch k {
	case FramingNone:
		return "none"
	case FramingLength:
		return "content-length"
	case FramingChunked:
		return "chunked"
	case FramingClose:
		return "close-delimited"
	default:
		return "unknown"
	}
}

// BodyFraming is a body-framing decision. Length is meaningful for
// FramingLength only.
type BodyFraming struct {
	Kind   FramingKind
	Length int64
}

// UnknownLength declares a body whose size is not known up front.
const UnknownLength int64 = -1

// NoBody, Chunked and CloseDelimited are the framings without a length.
var (
	NoBody         = BodyFraming{Kind: FramingNone}
	Chunked        = BodyFraming{Kind: FramingChunked}
	CloseDelimited = BodyFraming{Kind: FramingClose}
)

// ContentLength frames a body of exactly n bytes.
func ContentLength(n int64) BodyFraming {
	return BodyFraming{Kind: FramingLength, Length: n}
}

// HasBody reports whether any body bytes can follow the head.
func (f BodyFraming) HasBody() bool {
	switch f.Kind {
	case FramingNone:
		return false
	case FramingLength:
		return f.Length > 0
	default:
		return true
	}
}

func (f BodyFraming) String() string {
	if f.Kind == FramingLength {
		return "content-length(" + strconv.FormatInt(f.Length, 10) + ")"
	}
	return f.Kind.String()
}

// parseContentLength accepts 1*DIGIT only. Lists ("5, 5"), signs and
// whitespace are rejected.
func parseContentLength(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
