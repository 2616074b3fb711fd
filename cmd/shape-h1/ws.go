package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"
)

const (
	opContinuation = 0x0
	opText         = 0x1
	opBinary       = 0x2
	opClose        = 0x8
	opPing         = 0x9
	opPong         = 0xA

	maxFramePayload = 1 << 20
	wsIdleTimeout   = 60 * time.Second
)

var errFrameTooLarge = errors.New("websocket: frame too large")

type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

// echoFrames sends every data frame back to the client unmasked, answers
// pings, and echoes a close frame before returning.
func echoFrames(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		f, err := readFrame(br)
		if err != nil {
			return err
		}
		switch f.opcode {
		case opPing:
			f.opcode = opPong
		case opPong:
			continue
		case opText, opBinary, opContinuation:
		case opClose:
			if err := writeFrame(bw, f); err != nil {
				return err
			}
			return io.EOF
		default:
			return errors.New("websocket: unknown opcode")
		}
		if err := writeFrame(bw, f); err != nil {
			return err
		}
	}
}

func readFrame(r *bufio.Reader) (frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	f := frame{fin: hdr[0]&0x80 != 0, opcode: hdr[0] & 0x0F}
	masked := hdr[1]&0x80 != 0
	n := uint64(hdr[1] & 0x7F)
	switch n {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame{}, err
		}
		n = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame{}, err
		}
		n = binary.BigEndian.Uint64(ext[:])
	}
	if n > maxFramePayload {
		return frame{}, errFrameTooLarge
	}
	var mask [4]byte
	if masked {
		if _, err := io.ReadFull(r, mask[:]); err != nil {
			return frame{}, err
		}
	}
	f.payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return frame{}, err
	}
	if masked {
		for i := range f.payload {
			f.payload[i] ^= mask[i%4]
		}
	}
	return f, nil
}

// writeFrame writes f unmasked, as a server must.
func writeFrame(w *bufio.Writer, f frame) error {
	b0 := f.opcode
	if f.fin {
		b0 |= 0x80
	}
	w.WriteByte(b0)
	n := len(f.payload)
	switch {
	case n < 126:
		w.WriteByte(byte(n))
	case n <= 0xFFFF:
		w.WriteByte(126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		w.Write(ext[:])
	default:
		w.WriteByte(127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		w.Write(ext[:])
	}
	w.Write(f.payload)
	return w.Flush()
}
