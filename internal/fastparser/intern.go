package fastparser

// String interning for common HTTP tokens.
//
// The Go compiler optimizes map lookups with string([]byte) keys
// to avoid allocating the temporary string (the mapaccess optimization).
// This means InternMethod(someBytes) is zero-alloc for known methods.

var methods = map[string]string{
	"GET": "GET", "HEAD": "HEAD", "POST": "POST",
	"PUT": "PUT", "DELETE": "DELETE", "CONNECT": "CONNECT",
	"OPTIONS": "OPTIONS", "TRACE": "TRACE", "PATCH": "PATCH",
}

var headerNames = map[string]string{
	"Accept":                   "Accept",
	"Accept-Encoding":          "Accept-Encoding",
	"Accept-Language":          "Accept-Language",
	"Authorization":            "Authorization",
	"Cache-Control":            "Cache-Control",
	"Connection":               "Connection",
	"Content-Encoding":         "Content-Encoding",
	"Content-Length":           "Content-Length",
	"Content-Type":             "Content-Type",
	"Cookie":                   "Cookie",
	"Date":                     "Date",
	"Expect":                   "Expect",
	"Host":                     "Host",
	"If-Modified-Since":        "If-Modified-Since",
	"If-None-Match":            "If-None-Match",
	"Keep-Alive":               "Keep-Alive",
	"Location":                 "Location",
	"Origin":                   "Origin",
	"Range":                    "Range",
	"Referer":                  "Referer",
	"Sec-WebSocket-Accept":     "Sec-WebSocket-Accept",
	"Sec-WebSocket-Extensions": "Sec-WebSocket-Extensions",
	"Sec-WebSocket-Key":        "Sec-WebSocket-Key",
	"Sec-WebSocket-Protocol":   "Sec-WebSocket-Protocol",
	"Sec-WebSocket-Version":    "Sec-WebSocket-Version",
	"Server":                   "Server",
	"Set-Cookie":               "Set-Cookie",
	"TE":                       "TE",
	"Trailer":                  "Trailer",
	"Transfer-Encoding":        "Transfer-Encoding",
	"Upgrade":                  "Upgrade",
	"User-Agent":               "User-Agent",
	"Vary":                     "Vary",
	"Via":                      "Via",
	"X-Forwarded-For":          "X-Forwarded-For",
	"X-Request-ID":             "X-Request-ID",
	// lower-case forms are common from HTTP/2-era clients and proxies
	"connection":        "connection",
	"content-length":    "content-length",
	"content-type":      "content-type",
	"host":              "host",
	"transfer-encoding": "transfer-encoding",
	"upgrade":           "upgrade",
	"user-agent":        "user-agent",
}

var reasons = map[string]string{
	"OK":                    "OK",
	"Created":               "Created",
	"No Content":            "No Content",
	"Continue":              "Continue",
	"Switching Protocols":   "Switching Protocols",
	"Moved Permanently":     "Moved Permanently",
	"Found":                 "Found",
	"Not Modified":          "Not Modified",
	"Bad Request":           "Bad Request",
	"Unauthorized":          "Unauthorized",
	"Forbidden":             "Forbidden",
	"Not Found":             "Not Found",
	"Internal Server Error": "Internal Server Error",
	"Bad Gateway":           "Bad Gateway",
	"Service Unavailable":   "Service Unavailable",
}

// InternMethod returns an interned string for known HTTP methods, avoiding allocation.
func InternMethod(b []byte) string {
	if s, ok := methods[string(b)]; ok {
		return s
	}
	return string(b)
}

// InternHeaderName returns an interned string for known header names, avoiding allocation.
func InternHeaderName(b []byte) string {
	if s, ok := headerNames[string(b)]; ok {
		return s
	}
	return string(b)
}

// InternReason returns an interned string for known reason phrases, avoiding allocation.
func InternReason(b []byte) string {
	if s, ok := reasons[string(b)]; ok {
		return s
	}
	return string(b)
}
