package packet

import (
	"errors"
	"io"
	"testing"
)

// pageSpec describes one page of a scripted stream.
type pageSpec struct {
	seq          uint32
	granule      int64
	sizes        []int
	continuation bool
	continued    bool
	eos          bool
	resync       bool
}

// fakeContainer replays scripted pages into a single Reader.
type fakeContainer struct {
	t        *testing.T
	r        *Reader
	data     []byte
	pages    [][]*Packet
	seekable bool

	gathers          int
	discards         []int64
	released         []uint32
	lockedDuringPull bool
}

func newFake(t *testing.T, seekable bool, specs ...pageSpec) *fakeContainer {
	t.Helper()
	f := &fakeContainer{t: t, seekable: seekable}
	var off int64
	for _, s := range specs {
		var frags []*Packet
		for i, n := range s.sizes {
			var fl Flags
			if i == 0 && s.continuation {
				fl |= FlagContinuation
			}
			if i == 0 && s.resync {
				fl |= FlagResync
			}
			if i == len(s.sizes)-1 && s.continued {
				fl |= FlagContinued
			}
			if i == len(s.sizes)-1 && s.eos {
				fl |= FlagEndOfStream
			}
			p := New(f, off, n, fl)
			p.PageGranulePosition = s.granule
			p.PageSequenceNumber = s.seq
			frags = append(frags, p)
			off += int64(n)
		}
		f.pages = append(f.pages, frags)
	}
	f.data = make([]byte, off)
	for i := range f.data {
		f.data[i] = byte(i % 251)
	}
	f.r = NewReader(f, 7)
	return f
}

func (f *fakeContainer) GatherNextPage(serial uint32) error {
	f.gathers++
	if f.r.mu.TryLock() {
		f.r.mu.Unlock()
	} else {
		f.lockedDuringPull = true
	}
	if len(f.pages) == 0 {
		f.r.SetEndOfStream()
		return nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	for _, p := range page {
		if err := f.r.AddPacket(p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeContainer) PacketReadByte(offset int64) (byte, error) {
	if offset < 0 || offset >= int64(len(f.data)) {
		return 0, io.EOF
	}
	return f.data[offset], nil
}

func (f *fakeContainer) PacketDiscardThrough(offset int64) {
	f.discards = append(f.discards, offset)
}

func (f *fakeContainer) CanSeek() bool { return f.seekable }

func (f *fakeContainer) ReleaseStream(serial uint32) {
	f.released = append(f.released, serial)
}

// packetView is a flattened copy of one list entry.
type packetView struct {
	offset int64
	length int
	seq    uint32
	flags  Flags
}

// snapshot walks the live packet list head to tail.
func snapshot(r *Reader) []packetView {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []packetView
	for p := r.first; p != nil; p = p.next {
		out = append(out, packetView{offset: p.offset, length: p.length, seq: p.PageSequenceNumber, flags: p.flags})
	}
	return out
}

// countingCounter answers granule counts by packet offset and records how
// often it was asked.
type countingCounter struct {
	counts map[int64]int
	calls  map[int64]int
}

func newCounter(counts map[int64]int) *countingCounter {
	return &countingCounter{counts: counts, calls: map[int64]int{}}
}

func (c *countingCounter) count(p, prev *Packet) (int, error) {
	if p.BytesRead() != 0 || prev.BytesRead() != 0 {
		return 0, errors.New("packets were not reset before counting")
	}
	c.calls[p.Offset()]++
	n, ok := c.counts[p.Offset()]
	if !ok {
		return 0, errors.New("unexpected packet")
	}
	return n, nil
}

func (c *countingCounter) total() int {
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func mustNext(t *testing.T, r *Reader) *Packet {
	t.Helper()
	p, err := r.GetNextPacket()
	if err != nil {
		t.Fatalf("GetNextPacket: %v", err)
	}
	return p
}
