// Package stream provides the byte window the Ogg container reader parses
// pages from.
package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrDiscarded is returned for offsets released by DiscardThrough on a
	// source that cannot be read again.
	ErrDiscarded = errors.New("offset already discarded")
	// ErrBufferFull is returned when a non-seekable source would need more
	// than the configured window to satisfy a read.
	ErrBufferFull = errors.New("read buffer full")
)

const (
	// DefaultMaxBytes bounds the window when no limit is given.
	DefaultMaxBytes = 1 << 20
	readChunk       = 32 << 10
)

// Buffer addresses the bytes of an io.Reader by absolute offset and keeps
// only the window that has not been discarded yet.
//
// When the source is an io.ReaderAt the Buffer is seekable: discarded bytes
// are read again from the source and the window is trimmed as needed.
// Otherwise the source is consumed once, front to back.
type Buffer struct {
	mu     sync.Mutex
	src    io.Reader
	ra     io.ReaderAt
	buf    []byte
	base   int64
	max    int
	srcEOF bool
	closed bool
}

// NewBuffer wraps r with a window of at most maxBytes; maxBytes <= 0 selects
// DefaultMaxBytes.
func NewBuffer(r io.Reader, maxBytes int) *Buffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	b := &Buffer{src: r, max: maxBytes}
	if ra, ok := r.(io.ReaderAt); ok {
		b.ra = ra
	}
	return b
}

// CanSeek reports whether discarded offsets can be read again.
func (b *Buffer) CanSeek() bool { return b.ra != nil }

// BaseOffset is the first offset still held in the window.
func (b *Buffer) BaseOffset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

// Buffered is the number of bytes held in the window.
func (b *Buffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// ReadAt fills p with the bytes at off. Like io.ReaderAt it returns io.EOF
// when fewer than len(p) bytes exist.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if off < b.base {
		if b.ra == nil {
			return 0, fmt.Errorf("read at %d, window starts at %d: %w", off, b.base, ErrDiscarded)
		}
		return b.ra.ReadAt(p, off)
	}
	if err := b.fill(off, off+int64(len(p))); err != nil {
		return 0, err
	}
	start := off - b.base
	if start >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[start:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadByteAt returns the byte at off, or io.EOF past the end of the source.
func (b *Buffer) ReadByteAt(off int64) (byte, error) {
	b.mu.Lock()
	if !b.closed && off >= b.base && off < b.base+int64(len(b.buf)) {
		c := b.buf[off-b.base]
		b.mu.Unlock()
		return c, nil
	}
	b.mu.Unlock()

	var one [1]byte
	if _, err := b.ReadAt(one[:], off); err != nil {
		return 0, err
	}
	return one[0], nil
}

// DiscardThrough drops the window up to off and returns how many bytes were
// released.
func (b *Buffer) DiscardThrough(off int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off <= b.base {
		return 0
	}
	end := b.base + int64(len(b.buf))
	if off > end {
		off = end
	}
	n := off - b.base
	b.buf = b.buf[n:]
	b.base = off
	return n
}

// fill extends the window until it covers [keep, end) or the source ends.
// Caller holds b.mu.
func (b *Buffer) fill(keep, end int64) error {
	for !b.srcEOF && b.base+int64(len(b.buf)) < end {
		need := end - b.base - int64(len(b.buf))
		chunk := readChunk
		if need > int64(chunk) {
			chunk = int(need)
		}

		if len(b.buf)+chunk > b.max {
			if b.ra == nil {
				if len(b.buf)+int(need) > b.max {
					return fmt.Errorf("need %d bytes with %d buffered of %d: %w", need, len(b.buf), b.max, ErrBufferFull)
				}
				chunk = int(need)
			} else {
				b.trim(keep)
			}
		}

		start := len(b.buf)
		b.buf = append(b.buf, make([]byte, chunk)...)
		var n int
		var err error
		if b.ra != nil {
			n, err = b.ra.ReadAt(b.buf[start:], b.base+int64(start))
		} else {
			n, err = b.src.Read(b.buf[start:])
		}
		b.buf = b.buf[:start+n]
		if err == io.EOF {
			b.srcEOF = true
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// trim drops buffered bytes before keep so a seekable window stays bounded.
func (b *Buffer) trim(keep int64) {
	if keep <= b.base {
		return
	}
	end := b.base + int64(len(b.buf))
	if keep > end {
		keep = end
	}
	rest := b.buf[keep-b.base:]
	b.buf = append(make([]byte, 0, len(rest)+readChunk), rest...)
	b.base = keep
}

// Close releases the window and closes the source when it is an io.Closer.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.buf = nil
	if c, ok := b.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
