package http

import "io"

// Buffer is a connection read buffer: unread bytes live in buf[r:w] and new
// bytes are appended at w. It grows up to a ceiling and then reports
// ErrBufferFull.
type Buffer struct {
	buf []byte
	r   int
	w   int
	max int
}

// NewBuffer returns a buffer of size bytes that may grow to max.
func NewBuffer(size, max int) *Buffer {
	if size <= 0 {
		size = 4 << 10
	}
	if max < size {
		max = size
	}
	return &Buffer{buf: make([]byte, size), max: max}
}

// Bytes returns the unread bytes. The slice aliases the buffer and is only
// valid until the next Free.
func (b *Buffer) Bytes() []byte { return b.buf[b.r:b.w] }

// Len is the number of unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Discard consumes n unread bytes.
func (b *Buffer) Discard(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.r += n
}

// Free returns writable space after the unread bytes, compacting or growing
// the buffer as needed. An empty result means the ceiling is reached.
func (b *Buffer) Free() []byte {
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
	if b.w == len(b.buf) {
		switch {
		case b.r > 0:
			n := copy(b.buf, b.buf[b.r:b.w])
			b.r, b.w = 0, n
		case len(b.buf) < b.max:
			size := len(b.buf) * 2
			if size > b.max {
				size = b.max
			}
			nb := make([]byte, size)
			copy(nb, b.buf[:b.w])
			b.buf = nb
		}
	}
	return b.buf[b.w:]
}

// Commit marks n bytes written into the slice returned by Free.
func (b *Buffer) Commit(n int) { b.w += n }

// Write appends p, failing with ErrBufferFull at the ceiling.
func (b *Buffer) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		free := b.Free()
		if len(free) == 0 {
			return n, ErrBufferFull
		}
		c := copy(free, p)
		b.w += c
		n += c
		p = p[c:]
	}
	return n, nil
}

// Fill performs a single read from r into free space.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	free := b.Free()
	if len(free) == 0 {
		return 0, ErrBufferFull
	}
	n, err := r.Read(free)
	b.w += n
	return n, err
}

// Take returns a copy of the unread bytes and empties the buffer.
func (b *Buffer) Take() []byte {
	if b.Len() == 0 {
		return nil
	}
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	b.r, b.w = 0, 0
	return out
}
