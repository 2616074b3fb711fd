// Package parser maps decoded HTTP/1.x message heads to shape-core AST nodes
// and back.
//
// A message is an ObjectNode:
//
//	{ "type": "request", "method": "POST", "target": "/api",
//	  "version": "HTTP/1.1",
//	  "headers": [{"key": "Host", "value": "example.com"}, ...],
//	  "body": "..." }
//
//	{ "type": "response", "version": "HTTP/1.1", "statusCode": 200,
//	  "reason": "OK",
//	  "headers": [{"key": "Content-Type", "value": "text/plain"}, ...],
//	  "body": "..." }
//
// "body" is present only when the message carried one.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shapestone/shape-core/pkg/ast"
)

const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

var zeroPos = ast.Position{}

// ErrNotMessage is returned when a node does not describe a message.
var ErrNotMessage = errors.New("parser: node is not an HTTP message")

// Header is one field line in wire order.
type Header struct {
	Key   string
	Value string
}

// Message is the flat view of a request or response shared by the AST
// conversions.
type Message struct {
	Type       string
	Method     string
	Target     string
	Version    string
	StatusCode int
	Reason     string
	Headers    []Header
	Body       []byte
}

// ToNode converts m to an ObjectNode.
func ToNode(m *Message) ast.SchemaNode {
	props := map[string]ast.SchemaNode{
		"type":    ast.NewLiteralNode(m.Type, zeroPos),
		"version": ast.NewLiteralNode(m.Version, zeroPos),
		"headers": headersToNode(m.Headers),
	}
	if m.Type == TypeResponse {
		props["statusCode"] = ast.NewLiteralNode(int64(m.StatusCode), zeroPos)
		props["reason"] = ast.NewLiteralNode(m.Reason, zeroPos)
	} else {
		props["method"] = ast.NewLiteralNode(m.Method, zeroPos)
		props["target"] = ast.NewLiteralNode(m.Target, zeroPos)
	}
	if m.Body != nil {
		props["body"] = ast.NewLiteralNode(string(m.Body), zeroPos)
	}
	return ast.NewObjectNode(props, zeroPos)
}

func headersToNode(headers []Header) ast.SchemaNode {
	elements := make([]ast.SchemaNode, len(headers))
	for i, h := range headers {
		elements[i] = ast.NewObjectNode(map[string]ast.SchemaNode{
			"key":   ast.NewLiteralNode(h.Key, zeroPos),
			"value": ast.NewLiteralNode(h.Value, zeroPos),
		}, zeroPos)
	}
	return ast.NewArrayDataNode(elements, zeroPos)
}

// FromNode converts an ObjectNode produced by ToNode, or built by hand with
// the same properties, back to a Message.
func FromNode(node ast.SchemaNode) (*Message, error) {
	obj, ok := node.(*ast.ObjectNode)
	if !ok {
		return nil, fmt.Errorf("%w: expected ObjectNode, got %T", ErrNotMessage, node)
	}
	props := obj.Properties()

	m := &Message{}
	m.Type = stringProp(props, "type")
	switch m.Type {
	case TypeRequest:
		m.Method = stringProp(props, "method")
		m.Target = stringProp(props, "target")
		if m.Method == "" || m.Target == "" {
			return nil, fmt.Errorf("%w: request needs method and target", ErrNotMessage)
		}
	case TypeResponse:
		code, err := statusCode(props["statusCode"])
		if err != nil {
			return nil, err
		}
		m.StatusCode = code
		m.Reason = stringProp(props, "reason")
	case "":
		return nil, fmt.Errorf("%w: missing 'type' property", ErrNotMessage)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrNotMessage, m.Type)
	}
	m.Version = stringProp(props, "version")

	if v, ok := props["headers"]; ok {
		hdrs, err := nodeToHeaders(v)
		if err != nil {
			return nil, err
		}
		m.Headers = hdrs
	}
	if v, ok := props["body"]; ok {
		if lit, ok := v.(*ast.LiteralNode); ok {
			if s, ok := lit.Value().(string); ok {
				m.Body = []byte(s)
			}
		}
	}
	return m, nil
}

func stringProp(props map[string]ast.SchemaNode, key string) string {
	lit, ok := props[key].(*ast.LiteralNode)
	if !ok {
		return ""
	}
	s, _ := lit.Value().(string)
	return s
}

func statusCode(node ast.SchemaNode) (int, error) {
	lit, ok := node.(*ast.LiteralNode)
	if !ok {
		return 0, fmt.Errorf("%w: response needs statusCode", ErrNotMessage)
	}
	var code int
	switch v := lit.Value().(type) {
	case int64:
		code = int(v)
	case int:
		code = v
	case float64:
		code = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: statusCode %q", ErrNotMessage, v)
		}
		code = n
	default:
		return 0, fmt.Errorf("%w: statusCode has type %T", ErrNotMessage, v)
	}
	if code < 100 || code > 999 {
		return 0, fmt.Errorf("%w: statusCode %d out of range", ErrNotMessage, code)
	}
	return code, nil
}

func nodeToHeaders(node ast.SchemaNode) ([]Header, error) {
	arr, ok := node.(*ast.ArrayDataNode)
	if !ok {
		return nil, fmt.Errorf("%w: expected ArrayDataNode for headers, got %T", ErrNotMessage, node)
	}

	elements := arr.Elements()
	headers := make([]Header, 0, len(elements))
	for _, elem := range elements {
		obj, ok := elem.(*ast.ObjectNode)
		if !ok {
			continue
		}
		props := obj.Properties()
		h := Header{Key: stringProp(props, "key"), Value: stringProp(props, "value")}
		if h.Key == "" {
			return nil, fmt.Errorf("%w: header without key", ErrNotMessage)
		}
		headers = append(headers, h)
	}
	return headers, nil
}
