package fastparser

import "strconv"

// maxHexDigits bounds chunk-size so it always fits in a uint64.
const maxHexDigits = 16

// ScanChunkSize scans a chunk-size line: hex-size [BWS ";" chunk-ext] CRLF.
// Extensions are validated for control characters and otherwise ignored.
func ScanChunkSize(buf []byte, off int, lim Limits) (uint64, Result) {
	end, res := findLine(buf, off, lim.MaxLineLength)
	if res.Status != Complete {
		return 0, remap(res, ErrInvalidChunkSize)
	}
	line := buf[off:end]

	var size uint64
	i, digits := 0, 0
	for ; i < len(line); i++ {
		v, ok := unhex(line[i])
		if !ok {
			break
		}
		// Leading zeros do not count towards the width.
		if size == 0 && v == 0 {
			continue
		}
		if digits++; digits > maxHexDigits {
			return 0, invalid(ErrChunkTooLarge)
		}
		size = size<<4 | uint64(v)
	}
	if i == 0 {
		return 0, invalid(ErrInvalidChunkSize)
	}

	rest := line[i:]
	for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t') {
		rest = rest[1:]
	}
	if len(rest) > 0 {
		if rest[0] != ';' {
			return 0, invalid(ErrInvalidChunkSize)
		}
		for _, c := range rest {
			if (c < ' ' && c != '\t') || c == 0x7f {
				return 0, invalid(ErrInvalidChunkSize)
			}
		}
	}

	if lim.MaxChunkSize > 0 && size > lim.MaxChunkSize {
		return 0, invalid(ErrChunkTooLarge)
	}
	return size, res
}

// AppendChunkHeader appends "hex-size CRLF" for a chunk of n bytes.
func AppendChunkHeader(dst []byte, n int) []byte {
	dst = strconv.AppendUint(dst, uint64(n), 16)
	return append(dst, '\r', '\n')
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
