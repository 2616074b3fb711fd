package http

import (
	"context"
	"io"
	"sync"
)

// Chunk is one piece of a request body. EOF marks the last piece.
type Chunk struct {
	Data []byte
	EOF  bool
}

type payloadHooks struct {
	onStart   func() // first read attempt
	onDrain   func() // buffered bytes fell below the limit
	onAbandon func() // closed before the body was received
}

// Payload is a request body stream. The Dispatcher pushes decoded chunks in
// and the handler pulls them out with Next or Read. When more than the
// configured bytes are waiting, the Dispatcher stops reading the socket
// until the handler catches up.
//
// Payload is not restartable. Closing it before the body was fully received
// abandons the rest of the body, and the connection is closed after the
// response instead of being resynchronized.
type Payload struct {
	mu        sync.Mutex
	ready     chan struct{}
	chunks    [][]byte
	buffered  int
	limit     int
	eof       bool
	err       error
	closed    bool
	discard   bool
	discarded int64
	started   bool
	hooks     payloadHooks

	cur []byte // consumer side of Read
}

func newPayload(limit int, hooks payloadHooks) *Payload {
	return &Payload{ready: make(chan struct{}, 1), limit: limit, hooks: hooks}
}

// emptyPayload is the payload of a request without a body.
func emptyPayload() *Payload {
	p := newPayload(0, payloadHooks{})
	p.eof = true
	return p
}

func (p *Payload) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Next returns the next chunk, waiting for it if needed. After the last
// chunk it returns io.EOF.
func (p *Payload) Next(ctx context.Context) (Chunk, error) {
	p.start()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return Chunk{}, ErrPayloadClosed
		}
		if len(p.chunks) > 0 {
			c := p.chunks[0]
			p.chunks[0] = nil
			p.chunks = p.chunks[1:]
			wasFull := p.limit > 0 && p.buffered >= p.limit
			p.buffered -= len(c)
			last := p.eof && len(p.chunks) == 0
			drained := wasFull && p.buffered < p.limit
			p.mu.Unlock()
			if drained && p.hooks.onDrain != nil {
				p.hooks.onDrain()
			}
			return Chunk{Data: c, EOF: last}, nil
		}
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return Chunk{}, err
		}
		if p.eof {
			p.mu.Unlock()
			return Chunk{EOF: true}, io.EOF
		}
		p.mu.Unlock()

		select {
		case <-p.ready:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

// Read implements io.Reader over the chunks.
func (p *Payload) Read(b []byte) (int, error) {
	if len(p.cur) == 0 {
		c, err := p.Next(context.Background())
		if err != nil {
			return 0, err
		}
		p.cur = c.Data
		if len(p.cur) == 0 {
			return 0, io.EOF
		}
	}
	n := copy(b, p.cur)
	p.cur = p.cur[n:]
	return n, nil
}

// ReadAll collects the rest of the body.
func (p *Payload) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	for {
		c, err := p.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c.Data...)
		if c.EOF {
			return out, nil
		}
	}
}

// Close releases the payload. Closing before the body was fully received
// abandons it.
func (p *Payload) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	abandoned := !p.eof && p.err == nil && !p.discard
	p.chunks = nil
	p.buffered = 0
	p.mu.Unlock()
	p.signal()
	if abandoned && p.hooks.onAbandon != nil {
		p.hooks.onAbandon()
	}
	return nil
}

func (p *Payload) start() {
	p.mu.Lock()
	first := !p.started
	p.started = true
	p.mu.Unlock()
	if first && p.hooks.onStart != nil {
		p.hooks.onStart()
	}
}

// push queues a decoded chunk, or counts it when the body is discarded.
func (p *Payload) push(c []byte) {
	p.mu.Lock()
	if p.closed || p.discard {
		p.discarded += int64(len(c))
		p.mu.Unlock()
		return
	}
	p.chunks = append(p.chunks, c)
	p.buffered += len(c)
	p.mu.Unlock()
	p.signal()
}

// finish ends the stream; a nil err is a clean end.
func (p *Payload) finish(err error) {
	p.mu.Lock()
	if p.eof || p.err != nil {
		p.mu.Unlock()
		return
	}
	if err == nil {
		p.eof = true
	} else {
		p.err = err
	}
	p.mu.Unlock()
	p.signal()
}

// full reports whether the reader must pause.
func (p *Payload) full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && !p.discard && p.limit > 0 && p.buffered >= p.limit
}

// setDiscard drops queued chunks and counts further ones instead of keeping
// them.
func (p *Payload) setDiscard() {
	p.mu.Lock()
	p.discard = true
	for _, c := range p.chunks {
		p.discarded += int64(len(c))
	}
	p.chunks = nil
	p.buffered = 0
	p.mu.Unlock()
	p.signal()
}

func (p *Payload) discardedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discarded
}

func (p *Payload) isStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
