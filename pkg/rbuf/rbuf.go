// Package rbuf implements the readiness buffer: one fixed-capacity byte array
// that is either accumulating (write-only) or draining (read-only). The mode is
// the Go type, so a draining buffer cannot be written to.
package rbuf

import (
	"io"
)

// DefaultSize is the per-direction buffer capacity of a connection
const DefaultSize = 2048

// Accum is a buffer in accumulation mode
type Accum struct {
	data []byte
	n    int
}

// New creates an empty Accum with the given capacity
func New(size int) *Accum {
	if size <= 0 {
		size = DefaultSize
	}
	return &Accum{data: make([]byte, size)}
}

// Write appends as much of p as fits and returns the count. A full buffer
// returns 0; the caller must stop reading instead of retrying.
func (b *Accum) Write(p []byte) int {
	if b.data == nil {
		return 0
	}
	n := copy(b.data[b.n:], p)
	b.n += n
	return n
}

// Fill performs a single read from r into the free tail of the buffer. A full
// buffer returns (0, nil) without touching r.
func (b *Accum) Fill(r io.Reader) (n int, err error) {
	if b.data == nil || b.n >= len(b.data) {
		return
	}
	n, err = r.Read(b.data[b.n:])
	if n > 0 {
		b.n += n
	}
	return
}

// Bytes returns the bytes written so far. The slice must not be retained
// across a Flip.
func (b *Accum) Bytes() []byte {
	return b.data[:b.n]
}

func (b *Accum) Len() int {
	return b.n
}

func (b *Accum) Cap() int {
	return len(b.data)
}

func (b *Accum) Free() int {
	return len(b.data) - b.n
}

func (b *Accum) Full() bool {
	return b.n >= len(b.data)
}

// Flip freezes the written bytes and hands the array over to a Drain. b is
// unusable afterwards.
func (b *Accum) Flip() *Drain {
	if b.data == nil {
		panic("rbuf: flip of a released buffer")
	}
	d := &Drain{data: b.data, n: b.n}
	b.data, b.n = nil, 0
	return d
}

// Drain is a buffer in drain mode
type Drain struct {
	data []byte
	n    int
	pos  int
}

// Bytes returns the bytes not consumed yet
func (d *Drain) Bytes() []byte {
	return d.data[d.pos:d.n]
}

// Written returns the length frozen by Flip
func (d *Drain) Written() int {
	return d.n
}

func (d *Drain) Remaining() int {
	return d.n - d.pos
}

// Done reports whether every byte was consumed
func (d *Drain) Done() bool {
	return d.pos >= d.n
}

// Consume advances the cursor by n
func (d *Drain) Consume(n int) {
	if n < 0 || n > d.n-d.pos {
		panic("rbuf: consume out of range")
	}
	d.pos += n
}

// Flush performs a single write of the remaining bytes to w and consumes
// whatever was accepted. A partial write keeps the rest.
func (d *Drain) Flush(w io.Writer) (n int, err error) {
	if d.Done() {
		return
	}
	n, err = w.Write(d.data[d.pos:d.n])
	if n > 0 {
		d.Consume(n)
	}
	return
}

// Reset discards the contents and reopens the array for writing. d is
// unusable afterwards.
func (d *Drain) Reset() *Accum {
	if d.data == nil {
		panic("rbuf: reset of a released buffer")
	}
	b := &Accum{data: d.data}
	d.data, d.n, d.pos = nil, 0, 0
	return b
}
