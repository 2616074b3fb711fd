package http

import (
	"fmt"

	"github.com/shapestone/shape-core/pkg/ast"
	"github.com/shapestone/shape-h1/internal/parser"
)

// RequestToNode converts a request head to an AST ObjectNode. body is
// attached when non-nil.
func RequestToNode(h *RequestHead, body []byte) ast.SchemaNode {
	m := requestMessage(h)
	m.Body = body
	return parser.ToNode(m)
}

// ResponseToNode converts a response head to an AST ObjectNode. body is
// attached when non-nil.
func ResponseToNode(h *ResponseHead, body []byte) ast.SchemaNode {
	m := responseMessage(h)
	m.Body = body
	return parser.ToNode(m)
}

// NodeToRequest converts an AST ObjectNode to a request head and its body.
// Derived fields are not filled in; decode the rendered bytes for those.
func NodeToRequest(node ast.SchemaNode) (*RequestHead, []byte, error) {
	m, err := parser.FromNode(node)
	if err != nil {
		return nil, nil, err
	}
	if m.Type != parser.TypeRequest {
		return nil, nil, fmt.Errorf("http: expected request node, got %q", m.Type)
	}
	v, err := parseVersion(m.Version)
	if err != nil {
		return nil, nil, err
	}
	return &RequestHead{
		Method:  m.Method,
		Target:  m.Target,
		Version: v,
		Headers: fromParserHeaders(m.Headers),
	}, m.Body, nil
}

// NodeToResponse converts an AST ObjectNode to a response head and its body.
func NodeToResponse(node ast.SchemaNode) (*ResponseHead, []byte, error) {
	m, err := parser.FromNode(node)
	if err != nil {
		return nil, nil, err
	}
	if m.Type != parser.TypeResponse {
		return nil, nil, fmt.Errorf("http: expected response node, got %q", m.Type)
	}
	v, err := parseVersion(m.Version)
	if err != nil {
		return nil, nil, err
	}
	return &ResponseHead{
		Version:    v,
		StatusCode: m.StatusCode,
		Reason:     m.Reason,
		Headers:    fromParserHeaders(m.Headers),
	}, m.Body, nil
}

// NodeToInterface converts an AST node to native Go types.
func NodeToInterface(node ast.SchemaNode) interface{} {
	switch n := node.(type) {
	case *ast.LiteralNode:
		return n.Value()
	case *ast.ArrayDataNode:
		elements := n.Elements()
		arr := make([]interface{}, len(elements))
		for i, elem := range elements {
			arr[i] = NodeToInterface(elem)
		}
		return arr
	case *ast.ObjectNode:
		props := n.Properties()
		m := make(map[string]interface{}, len(props))
		for k, v := range props {
			m[k] = NodeToInterface(v)
		}
		return m
	default:
		return nil
	}
}

func requestMessage(h *RequestHead) *parser.Message {
	return &parser.Message{
		Type:    parser.TypeRequest,
		Method:  h.Method,
		Target:  h.Target,
		Version: h.Version.String(),
		Headers: toParserHeaders(h.Headers),
	}
}

func responseMessage(h *ResponseHead) *parser.Message {
	v := h.Version
	if v.isZero() {
		v = HTTP11
	}
	return &parser.Message{
		Type:       parser.TypeResponse,
		Version:    v.String(),
		StatusCode: h.StatusCode,
		Reason:     h.Reason,
		Headers:    toParserHeaders(h.Headers),
	}
}

func toParserHeaders(headers Headers) []parser.Header {
	out := make([]parser.Header, len(headers))
	for i, h := range headers {
		out[i] = parser.Header{Key: h.Key, Value: h.Value}
	}
	return out
}

func fromParserHeaders(headers []parser.Header) Headers {
	out := make(Headers, len(headers))
	for i, h := range headers {
		out[i] = Header{Key: h.Key, Value: h.Value}
	}
	return out
}

// parseVersion reads "HTTP/1.0" or "HTTP/1.1". An empty string is HTTP/1.1.
func parseVersion(s string) (Version, error) {
	switch s {
	case "", "HTTP/1.1":
		return HTTP11, nil
	case "HTTP/1.0":
		return HTTP10, nil
	}
	return Version{}, newError(KindMalformedStartLine, fmt.Sprintf("unsupported version %q", s), nil)
}
