package http

import (
	"fmt"
	"time"

	"github.com/shapestone/shape-h1/internal/fastparser"
)

// Config bounds every connection. It is passed by value into each Dispatcher
// and never read from globals. Zero fields take their DefaultConfig value.
type Config struct {
	MaxLineLength    int    // bytes per start, header or chunk-size line, CRLF included
	MaxHeaderCount   int    // header lines per head; also bounds trailers
	MaxHeadSize      int    // bytes per head
	ReadBufferSize   int    // initial read buffer
	MaxBufferSize    int    // read buffer ceiling
	MaxChunkSize     uint64 // largest accepted chunk-size
	MaxBodySize      int64  // request body limit; 0 is unlimited
	MaxPayloadBuffer int    // body bytes queued for a handler before reads pause
	MaxDiscard       int64  // unread body bytes skipped to keep a connection alive

	KeepAliveTimeout time.Duration // idle time allowed between transactions
	HeadTimeout      time.Duration // time to receive a head once it started
	BodyTimeout      time.Duration // time to receive a body once its head was parsed
	WriteTimeout     time.Duration // time allowed for one response write
	CloseGrace       time.Duration // lingering drain after a graceful close

	MaxTransactions int // per connection; 0 is unlimited
	MaxPipelined    int // requests read ahead of their responses
	WriteWatermark  int // encoder bytes buffered before flushing to the transport

	SendDate   bool   // add a Date header to responses
	ServerName string // value of the Server header; empty omits it
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxLineLength:    8 << 10,
		MaxHeaderCount:   100,
		MaxHeadSize:      64 << 10,
		ReadBufferSize:   4 << 10,
		MaxBufferSize:    128 << 10,
		MaxChunkSize:     16 << 20,
		MaxPayloadBuffer: 256 << 10,
		MaxDiscard:       256 << 10,
		KeepAliveTimeout: 5 * time.Second,
		HeadTimeout:      10 * time.Second,
		BodyTimeout:      60 * time.Second,
		WriteTimeout:     30 * time.Second,
		CloseGrace:       time.Second,
		MaxTransactions:  1000,
		MaxPipelined:     16,
		WriteWatermark:   64 << 10,
		SendDate:         true,
	}
}

// Validate reports limits that contradict each other.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.MaxLineLength < len("GET / HTTP/1.1\r\n"):
		return fmt.Errorf("http: MaxLineLength %d is too small", c.MaxLineLength)
	case c.MaxHeadSize < c.MaxLineLength:
		return fmt.Errorf("http: MaxHeadSize %d is below MaxLineLength %d", c.MaxHeadSize, c.MaxLineLength)
	case c.MaxBufferSize < c.MaxHeadSize:
		return fmt.Errorf("http: MaxBufferSize %d is below MaxHeadSize %d", c.MaxBufferSize, c.MaxHeadSize)
	case c.ReadBufferSize > c.MaxBufferSize:
		return fmt.Errorf("http: ReadBufferSize %d exceeds MaxBufferSize %d", c.ReadBufferSize, c.MaxBufferSize)
	case c.MaxBodySize < 0 || c.MaxDiscard < 0 || c.MaxTransactions < 0:
		return fmt.Errorf("http: negative limit")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxLineLength == 0 {
		c.MaxLineLength = d.MaxLineLength
	}
	if c.MaxHeaderCount == 0 {
		c.MaxHeaderCount = d.MaxHeaderCount
	}
	if c.MaxHeadSize == 0 {
		c.MaxHeadSize = d.MaxHeadSize
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = d.MaxBufferSize
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = d.MaxChunkSize
	}
	if c.MaxPayloadBuffer == 0 {
		c.MaxPayloadBuffer = d.MaxPayloadBuffer
	}
	if c.MaxDiscard == 0 {
		c.MaxDiscard = d.MaxDiscard
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if c.HeadTimeout == 0 {
		c.HeadTimeout = d.HeadTimeout
	}
	if c.BodyTimeout == 0 {
		c.BodyTimeout = d.BodyTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.CloseGrace == 0 {
		c.CloseGrace = d.CloseGrace
	}
	if c.MaxPipelined == 0 {
		c.MaxPipelined = d.MaxPipelined
	}
	if c.WriteWatermark == 0 {
		c.WriteWatermark = d.WriteWatermark
	}
	return c
}

func (c Config) limits() fastparser.Limits {
	return fastparser.Limits{
		MaxLineLength: c.MaxLineLength,
		MaxHeaders:    c.MaxHeaderCount,
		MaxChunkSize:  c.MaxChunkSize,
	}
}
