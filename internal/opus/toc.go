// Package opus reads just enough of Ogg Opus packets to count their
// granules: the TOC byte of audio packets and the identification header.
//
// Granule positions in Ogg Opus always count 48 kHz samples, whatever the
// input rate was.
package opus

import (
	"errors"
	"fmt"
)

// SampleRate is the granule rate of every Ogg Opus stream.
const SampleRate = 48000

// maxPacketSamples is 120 ms at 48 kHz.
const maxPacketSamples = 5760

var (
	ErrEmptyPacket   = errors.New("empty opus packet")
	ErrInvalidPacket = errors.New("invalid opus packet")
)

type (
	// TOC is the table-of-contents byte that starts every Opus packet:
	//
	//	 0 1 2 3 4 5 6 7
	//	+-+-+-+-+-+-+-+-+
	//	| config  |s| c |
	//	+-+-+-+-+-+-+-+-+
	//
	// https://datatracker.ietf.org/doc/html/rfc6716#section-3.1
	TOC byte

	// Configuration selects mode, bandwidth and frame size.
	Configuration byte

	// FrameCode tells how many frames the packet holds.
	FrameCode byte
)

// Frame codes.
const (
	OneFrame FrameCode = iota
	TwoEqualFrames
	TwoDifferentFrames
	ArbitraryFrames
)

func (t TOC) Configuration() Configuration { return Configuration(t >> 3) }
func (t TOC) IsStereo() bool                { return t&0b00000100 != 0 }
func (t TOC) FrameCode() FrameCode          { return FrameCode(t & 0b00000011) }

func (t TOC) String() string {
	return fmt.Sprintf("opus_toc: config=%d stereo=%v code=%d samples=%d",
		t.Configuration(), t.IsStereo(), t.FrameCode(), t.Configuration().FrameSamples())
}

// FrameSamples is the length of one frame in 48 kHz samples.
func (c Configuration) FrameSamples() int {
	switch {
	case c <= 11: // SILK-only: 10, 20, 40, 60 ms
		return [...]int{480, 960, 1920, 2880}[c%4]
	case c <= 15: // Hybrid: 10, 20 ms
		return [...]int{480, 960}[c%2]
	case c <= 31: // CELT-only: 2.5, 5, 10, 20 ms
		return [...]int{120, 240, 480, 960}[c%4]
	}
	return 0
}

// PacketSamples returns the number of 48 kHz samples an Opus audio packet
// decodes to.
func PacketSamples(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyPacket
	}
	toc := TOC(data[0])

	var frames int
	switch toc.FrameCode() {
	case OneFrame:
		frames = 1
	case TwoEqualFrames, TwoDifferentFrames:
		frames = 2
	case ArbitraryFrames:
		if len(data) < 2 {
			return 0, fmt.Errorf("code 3 packet without frame count: %w", ErrInvalidPacket)
		}
		frames = int(data[1] & 0x3F)
		if frames == 0 {
			return 0, fmt.Errorf("code 3 packet with zero frames: %w", ErrInvalidPacket)
		}
	}

	n := frames * toc.Configuration().FrameSamples()
	if n > maxPacketSamples {
		return 0, fmt.Errorf("%d samples exceed 120 ms: %w", n, ErrInvalidPacket)
	}
	return n, nil
}
