package http

import (
	"bytes"
	"io"

	"github.com/shapestone/shape-core/pkg/ast"
	"github.com/shapestone/shape-h1/internal/parser"
)

// Parse decodes one complete HTTP/1.x message into an AST.
//
// Input starting with "HTTP/" is decoded as a response, anything else as a
// request. The body is de-framed, so a chunked message yields its content.
// Returns an ast.ObjectNode:
//
//	{ "type": "request", "method": "GET", "target": "/api",
//	  "version": "HTTP/1.1",
//	  "headers": [{"key": "Host", "value": "example.com"}, ...],
//	  "body": "..." }
//
//	{ "type": "response", "version": "HTTP/1.1", "statusCode": 200,
//	  "reason": "OK",
//	  "headers": [{"key": "Content-Type", "value": "text/plain"}, ...],
//	  "body": "..." }
func Parse(input string) (ast.SchemaNode, error) {
	return parseBytes([]byte(input), DefaultConfig())
}

// ParseReader reads all data from r and parses it as an HTTP message into an AST.
func ParseReader(r io.Reader) (ast.SchemaNode, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	return parseBytes(data, DefaultConfig())
}

func parseBytes(data []byte, cfg Config) (ast.SchemaNode, error) {
	m, err := decodeMessage(data, cfg)
	if err != nil {
		return nil, err
	}
	return parser.ToNode(m), nil
}

// DetectMessageType returns "request" or "response" based on the data prefix.
// Data starting with "HTTP/" is detected as a response; everything else as a request.
func DetectMessageType(data []byte) string {
	if bytes.HasPrefix(data, []byte("HTTP/")) {
		return parser.TypeResponse
	}
	return parser.TypeRequest
}

// decodeMessage runs a Decoder over one complete message held in data.
func decodeMessage(data []byte, cfg Config) (*parser.Message, error) {
	var d *Decoder
	if DetectMessageType(data) == parser.TypeResponse {
		d = NewResponseDecoder(cfg)
	} else {
		d = NewRequestDecoder(cfg)
	}
	buf := NewBuffer(len(data), len(data))
	buf.Write(data)

	var (
		m    *parser.Message
		body []byte
	)
	eof := false
	for {
		var out Outcome
		if eof {
			out = d.DecodeEOF(buf)
		} else {
			out = d.Decode(buf)
		}
		switch out.Kind {
		case NeedMoreData:
			eof = true
		case HeadDecoded:
			// A body is attached only once bytes arrive, so an empty body and
			// an absent one render the same way.
			if out.Request != nil {
				m = requestMessage(out.Request)
			} else {
				m = responseMessage(out.Response)
			}
		case BodyChunk:
			body = append(body, out.Chunk...)
		case MessageComplete:
			m.Body = body
			return m, nil
		case StreamClosed:
			return nil, newError(KindMalformedStartLine, "empty message", io.ErrUnexpectedEOF)
		case DecodeFailed:
			return nil, out.Err
		}
	}
}

// readAll reads all data from r.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
