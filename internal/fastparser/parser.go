// Package fastparser implements the zero-copy HTTP/1.x scanners.
//
// Every scanner works on a caller-owned buffer starting at an offset and
// reports spans into that buffer. Nothing is copied: the caller turns spans
// into owned values only once the whole message head has been accepted.
package fastparser

import (
	"bytes"
	"errors"

	"github.com/indigo-web/utils/uf"
	"golang.org/x/net/http/httpguts"
)

// Status is the outcome class of a scan.
type Status uint8

const (
	// Incomplete means the element is not terminated yet; rescan with more bytes.
	Incomplete Status = iota
	// Complete means the element was scanned; Result.N bytes were consumed.
	Complete
	// Invalid means the input can never become a valid element; see Result.Err.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Result reports how a scan ended.
type Result struct {
	Status Status
	N      int   // bytes consumed from the offset, set when Complete
	Err    error // reason, set when Invalid
}

// Scanner errors. The decoder maps them onto its error kinds.
var (
	ErrLineTooLong        = errors.New("line too long")
	ErrMalformedStartLine = errors.New("malformed start line")
	ErrUnsupportedVersion = errors.New("unsupported HTTP version")
	ErrMalformedHeader    = errors.New("malformed header line")
	ErrObsFold            = errors.New("obsolete line folding")
	ErrTooManyHeaders     = errors.New("too many header fields")
	ErrInvalidChunkSize   = errors.New("invalid chunk size")
	ErrChunkTooLarge      = errors.New("chunk size exceeds limit")

	errBareLF = errors.New("bare LF")
)

// Limits bounds what a scanner accepts. Zero means unlimited.
type Limits struct {
	MaxLineLength int    // including the terminating CRLF
	MaxHeaders    int    // header (or trailer) lines per section
	MaxChunkSize  uint64 // largest chunk-size accepted
}

// Span locates bytes inside the scanned buffer.
type Span struct {
	Off int
	Len int
}

// Bytes returns the spanned bytes of buf. The result aliases buf.
func (s Span) Bytes(buf []byte) []byte { return buf[s.Off : s.Off+s.Len] }

// RequestLine is "method SP request-target SP HTTP-version".
type RequestLine struct {
	Method Span
	Target Span
	Major  int
	Minor  int
}

// StatusLine is "HTTP-version SP status-code SP [reason-phrase]".
type StatusLine struct {
	Major  int
	Minor  int
	Code   int
	Reason Span
}

// HeaderLine is "field-name ":" OWS field-value OWS".
type HeaderLine struct {
	Name  Span
	Value Span
}

func complete(n int) Result   { return Result{Status: Complete, N: n} }
func invalid(err error) Result { return Result{Status: Invalid, Err: err} }

// findLine locates the CRLF ending the line that starts at off. It returns the
// index of the CR. Bare LF is never accepted as a line terminator.
func findLine(buf []byte, off, max int) (int, Result) {
	window := buf[off:]
	limited := false
	if max > 0 && len(window) > max {
		window = window[:max]
		limited = true
	}
	i := bytes.IndexByte(window, '\n')
	if i < 0 {
		if limited {
			return 0, invalid(ErrLineTooLong)
		}
		return 0, Result{Status: Incomplete}
	}
	if i == 0 || window[i-1] != '\r' {
		return 0, invalid(errBareLF)
	}
	return off + i - 1, complete(i + 1)
}

func remap(res Result, err error) Result {
	if res.Err == errBareLF {
		res.Err = err
	}
	return res
}

// ScanRequestLine scans a request line starting at off.
func ScanRequestLine(buf []byte, off int, lim Limits) (RequestLine, Result) {
	end, res := findLine(buf, off, lim.MaxLineLength)
	if res.Status != Complete {
		return RequestLine{}, remap(res, ErrMalformedStartLine)
	}
	line := buf[off:end]

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return RequestLine{}, invalid(ErrMalformedStartLine)
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return RequestLine{}, invalid(ErrMalformedStartLine)
	}

	if !httpguts.ValidHeaderFieldName(uf.B2S(line[:sp1])) {
		return RequestLine{}, invalid(ErrMalformedStartLine)
	}
	if !validTarget(rest[:sp2]) {
		return RequestLine{}, invalid(ErrMalformedStartLine)
	}
	major, minor, ok := parseVersion(rest[sp2+1:])
	if !ok {
		return RequestLine{}, invalid(ErrMalformedStartLine)
	}
	if major != 1 {
		return RequestLine{}, invalid(ErrUnsupportedVersion)
	}

	return RequestLine{
		Method: Span{Off: off, Len: sp1},
		Target: Span{Off: off + sp1 + 1, Len: sp2},
		Major:  major,
		Minor:  minor,
	}, res
}

// ScanStatusLine scans a status line starting at off.
func ScanStatusLine(buf []byte, off int, lim Limits) (StatusLine, Result) {
	end, res := findLine(buf, off, lim.MaxLineLength)
	if res.Status != Complete {
		return StatusLine{}, remap(res, ErrMalformedStartLine)
	}
	line := buf[off:end]

	// "HTTP/1.1 200" is the shortest legal form.
	if len(line) < 12 || line[8] != ' ' {
		return StatusLine{}, invalid(ErrMalformedStartLine)
	}
	major, minor, ok := parseVersion(line[:8])
	if !ok {
		return StatusLine{}, invalid(ErrMalformedStartLine)
	}
	if major != 1 {
		return StatusLine{}, invalid(ErrUnsupportedVersion)
	}

	code := 0
	for _, c := range line[9:12] {
		if c < '0' || c > '9' {
			return StatusLine{}, invalid(ErrMalformedStartLine)
		}
		code = code*10 + int(c-'0')
	}
	if code < 100 {
		return StatusLine{}, invalid(ErrMalformedStartLine)
	}

	sl := StatusLine{Major: major, Minor: minor, Code: code, Reason: Span{Off: off + len(line)}}
	if len(line) > 12 {
		if line[12] != ' ' {
			return StatusLine{}, invalid(ErrMalformedStartLine)
		}
		reason := line[13:]
		for _, c := range reason {
			if (c < ' ' && c != '\t') || c == 0x7f {
				return StatusLine{}, invalid(ErrMalformedStartLine)
			}
		}
		sl.Reason = Span{Off: off + 13, Len: len(reason)}
	}
	return sl, res
}

// ScanHeaderLine scans one field line starting at off. When the line is the
// empty line closing the section, end is true.
func ScanHeaderLine(buf []byte, off int, lim Limits) (hl HeaderLine, end bool, res Result) {
	if off >= len(buf) {
		return hl, false, Result{Status: Incomplete}
	}
	switch buf[off] {
	case '\r':
		if off+1 >= len(buf) {
			return hl, false, Result{Status: Incomplete}
		}
		if buf[off+1] != '\n' {
			return hl, false, invalid(ErrMalformedHeader)
		}
		return hl, true, complete(2)
	case '\n':
		return hl, false, invalid(ErrMalformedHeader)
	case ' ', '\t':
		// A continuation line (or whitespace ahead of the first field) is
		// rejected outright instead of being merged.
		return hl, false, invalid(ErrObsFold)
	}

	lineEnd, res := findLine(buf, off, lim.MaxLineLength)
	if res.Status != Complete {
		return hl, false, remap(res, ErrMalformedHeader)
	}
	line := buf[off:lineEnd]

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return hl, false, invalid(ErrMalformedHeader)
	}
	// The token grammar also rejects whitespace between field-name and colon.
	if !httpguts.ValidHeaderFieldName(uf.B2S(line[:colon])) {
		return hl, false, invalid(ErrMalformedHeader)
	}

	vs, ve := colon+1, len(line)
	for vs < ve && (line[vs] == ' ' || line[vs] == '\t') {
		vs++
	}
	for ve > vs && (line[ve-1] == ' ' || line[ve-1] == '\t') {
		ve--
	}
	if !httpguts.ValidHeaderFieldValue(uf.B2S(line[vs:ve])) {
		return hl, false, invalid(ErrMalformedHeader)
	}

	return HeaderLine{
		Name:  Span{Off: off, Len: colon},
		Value: Span{Off: off + vs, Len: ve - vs},
	}, false, res
}

// ScanHeaders scans field lines up to and including the empty line, appending
// them to dst. On Incomplete nothing is consumed and the caller rescans from
// off once more bytes are available.
func ScanHeaders(buf []byte, off int, lim Limits, dst []HeaderLine) ([]HeaderLine, Result) {
	pos := off
	for {
		hl, end, res := ScanHeaderLine(buf, pos, lim)
		if res.Status != Complete {
			return dst, res
		}
		pos += res.N
		if end {
			return dst, complete(pos - off)
		}
		if lim.MaxHeaders > 0 && len(dst) >= lim.MaxHeaders {
			return dst, invalid(ErrTooManyHeaders)
		}
		dst = append(dst, hl)
	}
}

func parseVersion(b []byte) (major, minor int, ok bool) {
	if len(b) != 8 || !bytes.HasPrefix(b, httpPrefix) || b[6] != '.' {
		return 0, 0, false
	}
	if !isDigit(b[5]) || !isDigit(b[7]) {
		return 0, 0, false
	}
	return int(b[5] - '0'), int(b[7] - '0'), true
}

var httpPrefix = []byte("HTTP/")

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// validTarget accepts visible ASCII only; SP, CTLs and non-ASCII bytes are
// rejected.
func validTarget(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c <= ' ' || c >= 0x7f {
			return false
		}
	}
	return true
}
