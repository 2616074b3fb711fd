package http

import "strconv"

// appendCRLF appends \r\n to buf.
func appendCRLF(buf []byte) []byte {
	return append(buf, '\r', '\n')
}

// appendRequestLine appends "METHOD TARGET VERSION\r\n" to buf.
func appendRequestLine(buf []byte, method, target string, v Version) []byte {
	buf = append(buf, method...)
	buf = append(buf, ' ')
	buf = append(buf, target...)
	buf = append(buf, ' ')
	buf = appendVersion(buf, v)
	return appendCRLF(buf)
}

// appendStatusLine appends "VERSION STATUS REASON\r\n" to buf.
func appendStatusLine(buf []byte, v Version, statusCode int, reason string) []byte {
	buf = appendVersion(buf, v)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(statusCode), 10)
	buf = append(buf, ' ')
	buf = append(buf, reason...)
	return appendCRLF(buf)
}

func appendVersion(buf []byte, v Version) []byte {
	buf = append(buf, "HTTP/"...)
	buf = strconv.AppendInt(buf, int64(v.Major), 10)
	buf = append(buf, '.')
	return strconv.AppendInt(buf, int64(v.Minor), 10)
}

// appendHeader appends one "Key: Value\r\n" line.
func appendHeader(buf []byte, key, value string) []byte {
	buf = append(buf, key...)
	buf = append(buf, ':', ' ')
	buf = append(buf, value...)
	return appendCRLF(buf)
}

// appendHeaders appends all headers in "Key: Value\r\n" format.
func appendHeaders(buf []byte, headers Headers) []byte {
	for _, h := range headers {
		buf = appendHeader(buf, h.Key, h.Value)
	}
	return buf
}
