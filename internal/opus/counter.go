package opus

import (
	"io"

	"oggstream/internal/packet"
)

// Counter returns a packet.GranuleCounter for Ogg Opus streams. Header
// packets count zero granules.
func Counter() packet.GranuleCounter {
	return func(p, _ *packet.Packet) (int, error) {
		var lead [8]byte
		n, err := io.ReadFull(p, lead[:])
		if err != nil && err != io.ErrUnexpectedEOF {
			if err == io.EOF {
				return 0, ErrEmptyPacket
			}
			return 0, err
		}
		if IsHeader(lead[:n]) {
			return 0, nil
		}
		return PacketSamples(lead[:n])
	}
}
