package http

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestBuffer_WriteAndDiscard(t *testing.T) {
	b := NewBuffer(8, 8)
	if _, err := b.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	b.Discard(2)
	if got := string(b.Bytes()); got != "llo" {
		t.Errorf("Bytes() = %q, want llo", got)
	}
	b.Discard(100)
	if b.Len() != 0 {
		t.Errorf("Len() = %d after over-discard", b.Len())
	}
}

func TestBuffer_Compacts(t *testing.T) {
	b := NewBuffer(8, 8)
	b.Write([]byte("abcdefgh"))
	b.Discard(6)
	if _, err := b.Write([]byte("123456")); err != nil {
		t.Fatalf("Write after discard: %v", err)
	}
	if got := string(b.Bytes()); got != "gh123456" {
		t.Errorf("Bytes() = %q", got)
	}
}

func TestBuffer_GrowsToCeiling(t *testing.T) {
	b := NewBuffer(4, 10)
	n, err := b.Write([]byte("0123456789X"))
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("err = %v, want ErrBufferFull", err)
	}
	if n != 10 || b.Len() != 10 {
		t.Errorf("wrote %d, Len = %d; want 10", n, b.Len())
	}
	if len(b.Free()) != 0 {
		t.Error("Free() not empty at the ceiling")
	}
}

func TestBuffer_FreeCommit(t *testing.T) {
	b := NewBuffer(4, 4)
	free := b.Free()
	n := copy(free, "ab")
	b.Commit(n)
	if string(b.Bytes()) != "ab" {
		t.Errorf("Bytes() = %q", b.Bytes())
	}
}

func TestBuffer_Fill(t *testing.T) {
	b := NewBuffer(4, 16)
	r := strings.NewReader("abcdefgh")
	total := 0
	for {
		n, err := b.Fill(r)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if total != 8 || string(b.Bytes()) != "abcdefgh" {
		t.Errorf("filled %d bytes: %q", total, b.Bytes())
	}
}

func TestBuffer_Take(t *testing.T) {
	b := NewBuffer(8, 8)
	if b.Take() != nil {
		t.Error("Take() of an empty buffer should be nil")
	}
	b.Write([]byte("xyz"))
	out := b.Take()
	b.Write([]byte("123"))
	if string(out) != "xyz" {
		t.Errorf("Take() = %q, want an independent copy", out)
	}
}
