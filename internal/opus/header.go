package opus

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var (
	headMagic = []byte("OpusHead")
	tagsMagic = []byte("OpusTags")
)

// Head is the identification header, the first packet of an Ogg Opus
// stream.
type Head struct {
	Version         uint8
	Channels        int
	PreSkip         int
	InputSampleRate int
	OutputGain      int16
	MappingFamily   uint8
}

// IsHead reports whether data starts with the identification header magic.
func IsHead(data []byte) bool { return bytes.HasPrefix(data, headMagic) }

// IsTags reports whether data is the comment header.
func IsTags(data []byte) bool { return bytes.HasPrefix(data, tagsMagic) }

// IsHeader reports whether data is one of the two header packets.
func IsHeader(data []byte) bool { return IsHead(data) || IsTags(data) }

// ParseHead decodes an identification header.
func ParseHead(data []byte) (Head, error) {
	if !IsHead(data) {
		return Head{}, fmt.Errorf("missing OpusHead magic: %w", ErrInvalidPacket)
	}
	if len(data) < 19 {
		return Head{}, fmt.Errorf("OpusHead is %d bytes: %w", len(data), ErrInvalidPacket)
	}
	h := Head{
		Version:         data[8],
		Channels:        int(data[9]),
		PreSkip:         int(binary.LittleEndian.Uint16(data[10:12])),
		InputSampleRate: int(binary.LittleEndian.Uint32(data[12:16])),
		OutputGain:      int16(binary.LittleEndian.Uint16(data[16:18])),
		MappingFamily:   data[18],
	}
	if h.Version>>4 != 0 {
		return Head{}, fmt.Errorf("unsupported OpusHead version %d: %w", h.Version, ErrInvalidPacket)
	}
	if h.Channels == 0 {
		return Head{}, fmt.Errorf("OpusHead with zero channels: %w", ErrInvalidPacket)
	}
	return h, nil
}
