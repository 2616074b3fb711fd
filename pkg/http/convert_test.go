package http

import (
	"errors"
	"testing"

	"github.com/shapestone/shape-core/pkg/ast"
)

func TestRequestToNode_AndBack(t *testing.T) {
	h := &RequestHead{
		Method:  "POST",
		Target:  "/api/users",
		Version: HTTP11,
		Headers: Headers{
			{Key: "Host", Value: "example.com"},
			{Key: "Content-Type", Value: "application/json"},
		},
	}

	node := RequestToNode(h, []byte(`{"name":"Alice"}`))

	obj, ok := node.(*ast.ObjectNode)
	if !ok {
		t.Fatalf("expected ObjectNode, got %T", node)
	}

	props := obj.Properties()
	if lit := props["type"].(*ast.LiteralNode); lit.Value() != "request" {
		t.Errorf("type = %v, want request", lit.Value())
	}
	if lit := props["method"].(*ast.LiteralNode); lit.Value() != "POST" {
		t.Errorf("method = %v, want POST", lit.Value())
	}

	h2, body, err := NodeToRequest(node)
	if err != nil {
		t.Fatalf("NodeToRequest() error = %v", err)
	}
	if h2.Method != "POST" {
		t.Errorf("Method = %q, want POST", h2.Method)
	}
	if h2.Target != "/api/users" {
		t.Errorf("Target = %q, want /api/users", h2.Target)
	}
	if h2.Version != HTTP11 {
		t.Errorf("Version = %v, want HTTP/1.1", h2.Version)
	}
	if h2.Headers.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", h2.Headers.Get("Content-Type"))
	}
	if string(body) != `{"name":"Alice"}` {
		t.Errorf("body = %q", body)
	}
}

func TestResponseToNode_AndBack(t *testing.T) {
	h := NewResponseHead(404)
	h.Headers.Add("Content-Type", "text/html")

	node := ResponseToNode(h, []byte("<h1>Not Found</h1>"))
	props := node.(*ast.ObjectNode).Properties()
	if lit := props["statusCode"].(*ast.LiteralNode); lit.Value() != int64(404) {
		t.Errorf("statusCode = %v, want 404", lit.Value())
	}

	h2, body, err := NodeToResponse(node)
	if err != nil {
		t.Fatalf("NodeToResponse() error = %v", err)
	}
	if h2.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", h2.StatusCode)
	}
	if h2.Reason != "Not Found" {
		t.Errorf("Reason = %q, want Not Found", h2.Reason)
	}
	if string(body) != "<h1>Not Found</h1>" {
		t.Errorf("body = %q", body)
	}
}

func TestResponseToNode_ZeroVersion(t *testing.T) {
	node := ResponseToNode(&ResponseHead{StatusCode: 204, Reason: "No Content"}, nil)
	if v := node.(*ast.ObjectNode).Properties()["version"].(*ast.LiteralNode).Value(); v != "HTTP/1.1" {
		t.Errorf("version = %v, want HTTP/1.1", v)
	}
}

func TestNodeToRequest_HTTP10(t *testing.T) {
	node := RequestToNode(&RequestHead{Method: "GET", Target: "/", Version: HTTP10}, nil)
	h, _, err := NodeToRequest(node)
	if err != nil {
		t.Fatalf("NodeToRequest() error = %v", err)
	}
	if h.Version != HTTP10 {
		t.Errorf("Version = %v, want HTTP/1.0", h.Version)
	}
}

func TestNodeToRequest_Errors(t *testing.T) {
	response := ResponseToNode(NewResponseHead(200), nil)
	badVersion := RequestToNode(&RequestHead{Method: "GET", Target: "/", Version: Version{Major: 2}}, nil)

	if _, _, err := NodeToRequest(ast.NewLiteralNode("not an object", ast.Position{})); err == nil {
		t.Error("NodeToRequest(literal) = nil, want error")
	}
	if _, _, err := NodeToRequest(response); err == nil {
		t.Error("NodeToRequest(response) = nil, want error")
	}
	_, _, err := NodeToRequest(badVersion)
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindMalformedStartLine {
		t.Errorf("NodeToRequest(HTTP/2.0) error = %v, want malformed start line", err)
	}
}

func TestNodeToResponse_Errors(t *testing.T) {
	if _, _, err := NodeToResponse(ast.NewLiteralNode("not an object", ast.Position{})); err == nil {
		t.Error("NodeToResponse(literal) = nil, want error")
	}
	request := RequestToNode(&RequestHead{Method: "GET", Target: "/"}, nil)
	if _, _, err := NodeToResponse(request); err == nil {
		t.Error("NodeToResponse(request) = nil, want error")
	}
}

func TestNodeToRequest_NoBody(t *testing.T) {
	node := RequestToNode(&RequestHead{
		Method:  "GET",
		Target:  "/",
		Version: HTTP11,
		Headers: Headers{{Key: "Host", Value: "example.com"}},
	}, nil)
	_, body, err := NodeToRequest(node)
	if err != nil {
		t.Fatalf("NodeToRequest() error = %v", err)
	}
	if body != nil {
		t.Errorf("body = %v, want nil", body)
	}
}

func TestNodeToInterface(t *testing.T) {
	node := RequestToNode(&RequestHead{
		Method:  "GET",
		Target:  "/",
		Version: HTTP11,
		Headers: Headers{{Key: "Host", Value: "example.com"}},
	}, nil)

	iface := NodeToInterface(node)
	m, ok := iface.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", iface)
	}
	if m["type"] != "request" {
		t.Errorf("type = %v, want request", m["type"])
	}
	if m["method"] != "GET" {
		t.Errorf("method = %v, want GET", m["method"])
	}

	headers, ok := m["headers"].([]interface{})
	if !ok {
		t.Fatalf("headers: expected []interface{}, got %T", m["headers"])
	}
	if len(headers) != 1 {
		t.Errorf("expected 1 header, got %d", len(headers))
	}
}

func TestNodeToInterface_UnknownType(t *testing.T) {
	if result := NodeToInterface(nil); result != nil {
		t.Errorf("NodeToInterface(nil) = %v, want nil", result)
	}
}
