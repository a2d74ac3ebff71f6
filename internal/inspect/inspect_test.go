package inspect

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"oggstream/internal/oggdemux"
	"oggstream/internal/packet"
	"oggstream/internal/types"
)

func page(serial uint32, flags byte, granule int64, seq uint32, packets ...[]byte) []byte {
	b := append([]byte("OggS"), 0, flags)
	b = binary.LittleEndian.AppendUint64(b, uint64(granule))
	b = binary.LittleEndian.AppendUint32(b, serial)
	b = binary.LittleEndian.AppendUint32(b, seq)
	b = append(b, 0, 0, 0, 0, byte(len(packets)))
	for _, p := range packets {
		b = append(b, byte(len(p)))
	}
	for _, p := range packets {
		b = append(b, p...)
	}
	return b
}

func open(t *testing.T, data []byte, serial uint32) *packet.Reader {
	t.Helper()
	d := oggdemux.New(context.Background(), bytes.NewReader(data))
	t.Cleanup(func() { _ = d.Close() })
	if ok, err := d.Init(); !ok || err != nil {
		t.Fatalf("Init: %v %v", ok, err)
	}
	if _, err := d.TotalPageCount(); err != nil {
		t.Fatalf("TotalPageCount: %v", err)
	}
	r, err := d.Stream(serial)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	return r
}

func TestDescribeOpus(t *testing.T) {
	head := append([]byte("OpusHead"), 1, 1, 0x38, 0x01, 0x80, 0xBB, 0, 0, 0, 0, 0)
	var data []byte
	data = append(data, page(9, 0x02, 0, 0, head)...)
	data = append(data, page(9, 0, 0, 1, []byte("OpusTags\x00\x00\x00\x00"))...)
	data = append(data, page(9, 0x04, 48312, 2, []byte{1 << 3, 0})...)

	r := open(t, data, 9)
	info, err := Describe(r)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	want := types.StreamInfo{
		Serial:        9,
		Codec:         types.CodecOpus,
		Channels:      1,
		PreSkip:       312,
		Pages:         3,
		Granules:      48312,
		DurationMS:    1000,
		OverheadBytes: 3 * 28,
		EndOfStream:   true,
	}
	if info != want {
		t.Fatalf("expected %+v, got %+v", want, info)
	}

	// the cursor is untouched
	p, err := r.GetNextPacket()
	if err != nil {
		t.Fatalf("GetNextPacket: %v", err)
	}
	pi := PacketInfo(p)
	if pi.Offset != p.Offset() || pi.Length != len(head) || pi.PageSequenceNumber != 0 {
		t.Fatalf("unexpected packet info %+v", pi)
	}
}

func TestDescribeUnknownCodec(t *testing.T) {
	data := page(3, 0x06, 100, 0, []byte("\x80theora"))
	info, err := Describe(open(t, data, 3))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.Codec != types.CodecUnknown || info.DurationMS != 0 || info.Pages != 1 {
		t.Fatalf("unexpected info %+v", info)
	}
}
