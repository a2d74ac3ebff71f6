package packet

// Container is the physical container reader a Reader pulls pages from.
// The Ogg implementation lives in internal/oggdemux; tests use scripted fakes.
type Container interface {
	// GatherNextPage reads pages until one for serial has been handed to its
	// Reader via AddPacket, or marks every live Reader end-of-stream when the
	// container is exhausted. It may block on I/O and is never called with a
	// Reader lock held.
	GatherNextPage(serial uint32) error

	// PacketReadByte returns the byte at an absolute container offset, or
	// io.EOF past the end of the data.
	PacketReadByte(offset int64) (byte, error)

	// PacketDiscardThrough tells the container that bytes before offset are
	// no longer needed.
	PacketDiscardThrough(offset int64)

	// CanSeek reports whether bytes already discarded can be read again.
	CanSeek() bool

	// ReleaseStream detaches the Reader for serial; later pages of that
	// stream are skipped.
	ReleaseStream(serial uint32)
}

// GranuleCounter reports how many granules p contributes. prev is the packet
// immediately before p; both have been Reset before the call.
type GranuleCounter func(p, prev *Packet) (int, error)
