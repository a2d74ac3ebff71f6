// Package inspect summarises logical streams for the server and the CLI.
package inspect

import (
	"errors"

	"oggstream/internal/oggdemux"
	"oggstream/internal/opus"
	"oggstream/internal/packet"
	"oggstream/internal/types"
)

// DetectCodec inspects the first packet of r.
func DetectCodec(r *packet.Reader) (string, opus.Head, error) {
	head, ok, err := opus.ProbeHead(r)
	if err != nil || !ok {
		return types.CodecUnknown, opus.Head{}, err
	}
	return types.CodecOpus, head, nil
}

// Describe reports the codec of r and, when r can seek, its page count
// and duration. Totals read the stream to its end but leave the cursor
// where it was.
func Describe(r *packet.Reader) (types.StreamInfo, error) {
	info := types.StreamInfo{Serial: r.Serial()}

	codec, head, err := DetectCodec(r)
	if err != nil {
		return info, err
	}
	info.Codec = codec
	if codec == types.CodecOpus {
		info.Channels = head.Channels
		info.PreSkip = head.PreSkip
	}

	if r.CanSeek() {
		pages, err := r.GetTotalPageCount()
		if err != nil {
			return info, err
		}
		info.Pages = pages
		granules, err := r.TotalGranules()
		if err != nil && !errors.Is(err, packet.ErrPacketNotFound) {
			return info, err
		}
		info.Granules = granules
		if codec == types.CodecOpus {
			info.DurationMS = oggdemux.GranuleDuration(granules, int64(head.PreSkip), opus.SampleRate).Milliseconds()
		}
	}
	info.OverheadBytes = r.Overhead()
	info.EndOfStream = r.EndOfStream()
	return info, nil
}

// PacketInfo is the wire view of p.
func PacketInfo(p *packet.Packet) types.PacketInfo {
	info := types.PacketInfo{
		Offset:              p.Offset(),
		Length:              p.Length(),
		PageGranulePosition: p.PageGranulePosition,
		PageSequenceNumber:  p.PageSequenceNumber,
		Resync:              p.IsResync(),
		EndOfStream:         p.IsEndOfStream(),
	}
	if pos, ok := p.GranulePosition(); ok {
		info.GranulePosition = &pos
	}
	if n, ok := p.GranuleCount(); ok {
		info.GranuleCount = &n
	}
	return info
}
