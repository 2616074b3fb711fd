package http

import (
	"fmt"
	"strconv"

	"github.com/shapestone/shape-core/pkg/ast"
	"github.com/shapestone/shape-h1/internal/fastparser"
	"github.com/shapestone/shape-h1/internal/parser"
)

// Render converts an AST node (from Parse) back to HTTP wire format bytes.
//
// Headers are written as given and in order. A body is framed to agree with
// them: under chunked Transfer-Encoding it becomes a single chunk, and with
// neither Content-Length nor Transfer-Encoding a Content-Length is added.
func Render(node ast.SchemaNode) ([]byte, error) {
	m, err := parser.FromNode(node)
	if err != nil {
		return nil, fmt.Errorf("http: Render: %w", err)
	}
	v, err := parseVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("http: Render: %w", err)
	}
	headers := fromParserHeaders(m.Headers)

	buf := make([]byte, 0, 256+len(m.Body))
	if m.Type == parser.TypeRequest {
		buf = appendRequestLine(buf, m.Method, m.Target, v)
	} else {
		buf = appendStatusLine(buf, v, m.StatusCode, m.Reason)
	}
	buf = appendHeaders(buf, headers)

	chunked := false
	if te := headers.Values("Transfer-Encoding"); len(te) > 0 {
		f, e := messageFraming(headers)
		if e != nil && e != errNoChunked {
			return nil, fmt.Errorf("http: Render: %w", e)
		}
		chunked = f.Kind == FramingChunked
	} else if m.Body != nil && !headers.Has("Content-Length") {
		buf = appendHeader(buf, "Content-Length", strconv.Itoa(len(m.Body)))
	}
	buf = appendCRLF(buf)

	if !chunked {
		return append(buf, m.Body...), nil
	}
	if len(m.Body) > 0 {
		buf = fastparser.AppendChunkHeader(buf, len(m.Body))
		buf = append(buf, m.Body...)
		buf = appendCRLF(buf)
	}
	return append(buf, "0\r\n\r\n"...), nil
}
