// Package packet rebuilds the codec packets of one Ogg logical bitstream
// from the page fragments a container reader hands it, and resolves granule
// positions to packets for seeking.
//
// Packets are linked in stream order. A Reader holds its list lock only while
// it updates links and flags; container I/O always happens outside of it.
package packet

import (
	"io"
)

// Flags describe how a fragment relates to the pages around it.
type Flags uint8

const (
	// FlagContinued marks a packet whose data goes on in the next page.
	FlagContinued Flags = 1 << iota
	// FlagContinuation marks a fragment that completes the previous packet.
	FlagContinuation
	// FlagResync marks the first fragment after the container lost sync.
	FlagResync
	// FlagEndOfStream marks the last packet of the logical stream.
	FlagEndOfStream
)

// Packet is one fragment of container data, or a fragment merged with the
// continuations that complete it.
//
// A Packet is not safe for concurrent reads; the cursor it carries belongs to
// whoever obtained it from the Reader.
type Packet struct {
	container Container
	owner     *Reader

	offset  int64
	fragLen int
	length  int
	flags   Flags

	// PageGranulePosition is the granule position of the page holding the
	// packet's last fragment; -1 when no packet ends on that page.
	PageGranulePosition int64
	// PageSequenceNumber is the sequence number of that page.
	PageSequenceNumber uint32

	granulePos   int64
	hasPos       bool
	granuleCount int
	hasCount     bool

	readPos   int
	bytesRead int
	short     bool

	next, prev *Packet
	merged     *Packet
}

// New returns a fragment of length bytes starting at the absolute container
// offset.
func New(c Container, offset int64, length int, flags Flags) *Packet {
	return &Packet{
		container:           c,
		offset:              offset,
		fragLen:             length,
		length:              length,
		flags:               flags,
		PageGranulePosition: -1,
	}
}

func (p *Packet) Offset() int64 { return p.offset }

// Length is the logical length, including every merged continuation.
func (p *Packet) Length() int { return p.length }

func (p *Packet) Flags() Flags { return p.flags }

func (p *Packet) IsContinued() bool    { return p.flags&FlagContinued != 0 }
func (p *Packet) IsContinuation() bool { return p.flags&FlagContinuation != 0 }
func (p *Packet) IsResync() bool       { return p.flags&FlagResync != 0 }
func (p *Packet) IsEndOfStream() bool  { return p.flags&FlagEndOfStream != 0 }

// IsShort reports whether a read ran past the end of the packet since the
// last Reset.
func (p *Packet) IsShort() bool { return p.short }

// BytesRead is the number of bytes consumed since the last Reset.
func (p *Packet) BytesRead() int { return p.bytesRead }

func (p *Packet) setFlag(f Flags, on bool) {
	if on {
		p.flags |= f
	} else {
		p.flags &^= f
	}
}

// GranulePosition returns the granule position of the packet's last sample,
// once a seek has derived it.
func (p *Packet) GranulePosition() (int64, bool) { return p.granulePos, p.hasPos }

// GranuleCount returns the number of granules the packet contributes, once a
// seek has asked the codec for it.
func (p *Packet) GranuleCount() (int, bool) { return p.granuleCount, p.hasCount }

// setGranule memoizes position and count together. Once set they never
// change.
func (p *Packet) setGranule(pos int64, count int) {
	if p.hasCount {
		return
	}
	p.granulePos, p.hasPos = pos, true
	p.granuleCount, p.hasCount = count, true
}

func (p *Packet) presetPosition(pos int64) {
	if p.hasCount {
		return
	}
	p.granulePos, p.hasPos = pos, true
}

// Next returns the packet that follows p in its stream, if it is known yet.
func (p *Packet) Next() *Packet {
	if r := p.owner; r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return p.next
}

// Prev returns the packet before p in its stream.
func (p *Packet) Prev() *Packet {
	if r := p.owner; r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return p.prev
}

// ReadNextByte returns the next unread byte of the packet, moving on to the
// merged continuations when this fragment is used up. It returns io.EOF at
// the end of the packet.
func (p *Packet) ReadNextByte() (byte, error) {
	if p.readPos < p.fragLen {
		c := p.container
		if c == nil {
			return 0, ErrClosed
		}
		b, err := c.PacketReadByte(p.offset + int64(p.readPos))
		if err != nil {
			return 0, err
		}
		p.readPos++
		return b, nil
	}
	if p.merged != nil {
		return p.merged.ReadNextByte()
	}
	return 0, io.EOF
}

// ReadByte implements io.ByteReader.
func (p *Packet) ReadByte() (byte, error) {
	b, err := p.ReadNextByte()
	if err != nil {
		if err == io.EOF {
			p.short = true
		}
		return 0, err
	}
	p.bytesRead++
	return b, nil
}

// Read implements io.Reader over the merged packet.
func (p *Packet) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		b, err := p.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 {
				return n, nil
			}
			return n, err
		}
		buf[n] = b
		n++
	}
	return n, nil
}

// Bytes rewinds the packet and returns its whole payload.
func (p *Packet) Bytes() ([]byte, error) {
	p.Reset()
	out := make([]byte, p.length)
	n, err := io.ReadFull(p, out)
	if err != nil {
		return out[:n], err
	}
	return out, nil
}

// Reset rewinds the packet and every merged continuation.
func (p *Packet) Reset() {
	p.readPos = 0
	p.bytesRead = 0
	p.short = false
	if p.merged != nil {
		p.merged.Reset()
	}
}

// Done releases the container bytes backing the packet. Call it once the
// packet has been fully consumed.
func (p *Packet) Done() {
	if p.merged != nil {
		p.merged.Done()
		return
	}
	if c := p.container; c != nil {
		c.PacketDiscardThrough(p.offset + int64(p.fragLen))
	}
}

// MergeWith appends frag as the continuation of p. The merged packet takes
// the page metadata of the fragment's page.
func (p *Packet) MergeWith(frag *Packet) {
	if p.merged == nil {
		p.merged = frag
	} else {
		p.merged.MergeWith(frag)
	}
	p.length += frag.length
	p.PageGranulePosition = frag.PageGranulePosition
	p.PageSequenceNumber = frag.PageSequenceNumber
	if frag.IsEndOfStream() {
		p.flags |= FlagEndOfStream
	}
}
