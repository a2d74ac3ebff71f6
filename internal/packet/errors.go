package packet

import (
	"errors"
	"fmt"
)

// Data consistency errors. ErrIncompletePacket also matches ErrInvalidData.
var (
	ErrInvalidData         = errors.New("invalid packet data")
	ErrIncompletePacket    = fmt.Errorf("packet is still continued on a later page: %w", ErrInvalidData)
	ErrFirstPacketMismatch = errors.New("first data packet size mismatch")
)

// Usage errors.
var (
	ErrNotSeekable     = errors.New("container is not seekable")
	ErrOutOfRange      = errors.New("index out of range")
	ErrNegativeGranule = errors.New("granule position must not be negative")
	ErrInvalidPreRoll  = errors.New("pre-roll must not be negative")
	ErrNilPacket       = errors.New("packet is nil")
	ErrNilCounter      = errors.New("granule counter is nil")
	ErrForeignPacket   = errors.New("packet does not belong to this reader")
	ErrClosed          = errors.New("packet reader is closed")
)

// Not-found errors.
var (
	ErrPacketNotFound    = errors.New("packet not found")
	ErrGranuleNotFound   = errors.New("granule position not found")
	ErrPreRollOutOfRange = errors.New("pre-roll runs past the first packet")
)
