package opus

import (
	"errors"
	"io"

	"oggstream/internal/packet"
)

// ProbeHead reads the first packet of r and parses it as an identification
// header. ok is false for streams of other codecs and for empty streams.
// The cursor of r does not move.
func ProbeHead(r *packet.Reader) (h Head, ok bool, err error) {
	var p *packet.Packet
	if r.CanSeek() {
		p, err = r.GetPacket(0)
	} else {
		p, err = r.PeekNextPacket()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, packet.ErrPacketNotFound) {
		return Head{}, false, nil
	}
	if err != nil {
		return Head{}, false, err
	}

	data, err := p.Bytes()
	if err != nil {
		return Head{}, false, err
	}
	h, err = ParseHead(data)
	if err != nil {
		return Head{}, false, nil
	}
	return h, true, nil
}
