package oggdemux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	capturePattern = "OggS"
	headerSize     = 27

	// header_type bits
	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

// errNoPage means the bytes at an offset are not a page header.
var errNoPage = errors.New("no page header")

// pageHeader is a parsed page header. Offsets are absolute.
type pageHeader struct {
	offset        int64
	flags         byte
	granule       int64
	serial        uint32
	seq           uint32
	sizes         []int
	lastContinues bool
	dataOffset    int64
	bodyLen       int
	resync        bool
}

func (h *pageHeader) end() int64 { return h.dataOffset + int64(h.bodyLen) }

// readHeader parses the page at off and makes sure its body is buffered.
// It returns errNoPage when off holds no header and io.EOF when the data
// ends inside the page.
func (d *Demuxer) readHeader(off int64) (*pageHeader, error) {
	var hdr [headerSize]byte
	if _, err := d.buf.ReadAt(hdr[:], off); err != nil {
		return nil, err
	}
	if string(hdr[0:4]) != capturePattern || hdr[4] != 0 {
		return nil, errNoPage
	}

	h := &pageHeader{
		offset:  off,
		flags:   hdr[5],
		granule: int64(binary.LittleEndian.Uint64(hdr[6:14])),
		serial:  binary.LittleEndian.Uint32(hdr[14:18]),
		seq:     binary.LittleEndian.Uint32(hdr[18:22]),
	}
	// hdr[22:26] is the CRC, which is not verified

	segs := make([]byte, int(hdr[26]))
	if len(segs) > 0 {
		if _, err := d.buf.ReadAt(segs, off+headerSize); err != nil {
			return nil, err
		}
	}
	h.sizes, h.lastContinues, h.bodyLen = lace(segs)
	h.dataOffset = off + headerSize + int64(len(segs))

	if h.bodyLen > 0 {
		if _, err := d.buf.ReadByteAt(h.end() - 1); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// lace turns a segment table into packet sizes. A 255 lacing value means the
// packet goes on; a table ending in 255 leaves its last packet open.
func lace(segs []byte) (sizes []int, lastContinues bool, total int) {
	cur := 0
	for _, v := range segs {
		cur += int(v)
		total += int(v)
		if v < 255 {
			sizes = append(sizes, cur)
			cur = 0
		}
	}
	if len(segs) > 0 && segs[len(segs)-1] == 255 {
		sizes = append(sizes, cur)
		lastContinues = true
	}
	return sizes, lastContinues, total
}

// findNextPage returns the page at the expected offset, or hunts forward for
// the next capture pattern when sync was lost.
func (d *Demuxer) findNextPage() (*pageHeader, error) {
	start := d.nextPageOffset
	h, err := d.readHeader(start)
	if !errors.Is(err, errNoPage) {
		return h, err
	}

	for off := start + 1; off-start <= int64(d.resyncLimit); off++ {
		c, err := d.buf.ReadByteAt(off)
		if err != nil {
			if err == io.EOF {
				d.waste(off - start)
			}
			return nil, err
		}
		if c != capturePattern[0] {
			continue
		}
		h, err := d.readHeader(off)
		if errors.Is(err, errNoPage) {
			continue
		}
		if err != nil {
			if err == io.EOF {
				d.waste(off - start)
			}
			return nil, err
		}
		h.resync = true
		d.waste(off - start)
		return h, nil
	}
	return nil, fmt.Errorf("no page within %d bytes of offset %d: %w", d.resyncLimit, start, ErrSyncLost)
}
