package packet

import (
	"errors"
	"testing"
)

// headerAndPage is a header packet on page 0 followed by one page stamped
// 1000 holding packets of 400 and 600 granules.
func headerAndPage(t *testing.T) (*fakeContainer, *countingCounter) {
	f := newFake(t, true,
		pageSpec{seq: 0, granule: 0, sizes: []int{19}},
		pageSpec{seq: 1, granule: 1000, sizes: []int{10, 12}},
		pageSpec{seq: 2, granule: 1960, sizes: []int{11}, eos: true},
	)
	c := newCounter(map[int64]int{19: 400, 29: 600, 41: 960})
	return f, c
}

func TestFindPacket_SpanBoundaries(t *testing.T) {
	tests := []struct {
		target int64
		want   int64
	}{
		{1000, 29},
		{600, 29},
		{401, 29},
		{400, 19},
		{1, 19},
		{1001, 41},
		{1960, 41},
	}
	for _, tt := range tests {
		f, c := headerAndPage(t)
		p, err := f.r.FindPacket(tt.target, c.count)
		if err != nil {
			t.Fatalf("FindPacket(%d): %v", tt.target, err)
		}
		if p.Offset() != tt.want {
			t.Fatalf("FindPacket(%d): expected packet at %d, got %d", tt.target, tt.want, p.Offset())
		}
	}
}

func TestFindPacket_CachesCounts(t *testing.T) {
	f, c := headerAndPage(t)

	first, err := f.r.FindPacket(400, c.count)
	if err != nil {
		t.Fatalf("FindPacket: %v", err)
	}
	calls := c.total()
	if calls != 2 {
		t.Fatalf("expected 2 counter calls, got %d", calls)
	}
	pos, _ := first.GranulePosition()
	n, _ := first.GranuleCount()

	again, err := f.r.FindPacket(400, c.count)
	if err != nil {
		t.Fatalf("second FindPacket: %v", err)
	}
	if again != first {
		t.Fatalf("second FindPacket returned a different packet")
	}
	if c.total() != calls {
		t.Fatalf("counter called again for resolved packets: %v", c.calls)
	}
	pos2, _ := again.GranulePosition()
	n2, _ := again.GranuleCount()
	if pos != pos2 || n != n2 || pos != 400 || n != 400 {
		t.Fatalf("cached span changed: (%d,%d) then (%d,%d)", pos, n, pos2, n2)
	}
}

func TestFindPacket_TargetBeforeFirstSpanOfPage(t *testing.T) {
	f := newFake(t, true,
		pageSpec{seq: 0, granule: 0, sizes: []int{19}},
		pageSpec{seq: 1, granule: 1000, sizes: []int{10, 12}},
	)
	// spans (100,400] and (400,1000] leave a gap after the header's 0
	c := newCounter(map[int64]int{19: 300, 29: 600})

	p, err := f.r.FindPacket(50, c.count)
	if err != nil {
		t.Fatalf("FindPacket: %v", err)
	}
	if p.Offset() != 19 {
		t.Fatalf("expected the first packet of the page, got offset %d", p.Offset())
	}
}

func TestFindPacket_PastEndOfStream(t *testing.T) {
	f, c := headerAndPage(t)
	if _, err := f.r.FindPacket(5000, c.count); !errors.Is(err, ErrGranuleNotFound) {
		t.Fatalf("expected ErrGranuleNotFound, got %v", err)
	}
}

func TestFindPacket_ShortFinalPacket(t *testing.T) {
	f := newFake(t, true,
		pageSpec{seq: 0, granule: 0, sizes: []int{19}},
		pageSpec{seq: 1, granule: 1920, sizes: []int{10, 10}},
		pageSpec{seq: 2, granule: 2400, sizes: []int{10}, eos: true},
	)
	c := newCounter(map[int64]int{19: 960, 29: 960})

	p, err := f.r.FindPacket(2000, c.count)
	if err != nil {
		t.Fatalf("FindPacket: %v", err)
	}
	if p.Offset() != 39 {
		t.Fatalf("expected final packet, got offset %d", p.Offset())
	}
	if n, ok := p.GranuleCount(); !ok || n != 480 {
		t.Fatalf("expected trimmed count 480, got %d (%v)", n, ok)
	}
	if c.calls[39] != 0 {
		t.Fatalf("counter must not be asked about the trimmed final packet")
	}
}

func TestFindPacket_WalksBackFromCursor(t *testing.T) {
	f, c := headerAndPage(t)
	for i := 0; i < 4; i++ {
		mustNext(t, f.r)
	}

	p, err := f.r.FindPacket(300, c.count)
	if err != nil {
		t.Fatalf("FindPacket: %v", err)
	}
	if p.Offset() != 19 {
		t.Fatalf("expected packet at 19, got %d", p.Offset())
	}
}

func TestFindPacket_UsageErrors(t *testing.T) {
	f, c := headerAndPage(t)
	if _, err := f.r.FindPacket(-1, c.count); !errors.Is(err, ErrNegativeGranule) {
		t.Fatalf("expected ErrNegativeGranule, got %v", err)
	}
	if _, err := f.r.FindPacket(10, nil); !errors.Is(err, ErrNilCounter) {
		t.Fatalf("expected ErrNilCounter, got %v", err)
	}
	if f.gathers != 0 {
		t.Fatalf("usage errors must not pull pages")
	}
}

func TestFindPacket_CounterErrorIsReturned(t *testing.T) {
	f, _ := headerAndPage(t)
	boom := errors.New("bad toc")
	_, err := f.r.FindPacket(500, func(p, prev *Packet) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected counter error, got %v", err)
	}
}

func TestFindPacket_FirstPacketMismatch(t *testing.T) {
	specs := []pageSpec{
		{seq: 0, granule: 500, sizes: []int{8}},
		{seq: 1, granule: 1000, sizes: []int{8}},
	}
	f := newFake(t, true, specs...)
	c := newCounter(map[int64]int{8: 800})

	if _, err := f.r.FindPacket(1000, c.count); err != nil {
		t.Fatalf("FindPacket(1000): %v", err)
	}
	if _, err := f.r.FindPacket(100, c.count); !errors.Is(err, ErrFirstPacketMismatch) {
		t.Fatalf("expected ErrFirstPacketMismatch, got %v", err)
	}

	f = newFake(t, true, specs...)
	f.r = NewReader(f, 7, WithFirstPacketTolerance(300))
	if _, err := f.r.FindPacket(1000, c.count); err != nil {
		t.Fatalf("FindPacket(1000): %v", err)
	}
	p, err := f.r.FindPacket(100, c.count)
	if err != nil {
		t.Fatalf("FindPacket with tolerance: %v", err)
	}
	if p.Offset() != 0 {
		t.Fatalf("expected first packet, got offset %d", p.Offset())
	}
}

func TestSeekToPacket_PreRoll(t *testing.T) {
	f, c := headerAndPage(t)
	target, err := f.r.FindPacket(900, c.count)
	if err != nil {
		t.Fatalf("FindPacket: %v", err)
	}

	if err := f.r.SeekToPacket(target, 1); err != nil {
		t.Fatalf("SeekToPacket: %v", err)
	}
	if p := mustNext(t, f.r); p.Offset() != 19 {
		t.Fatalf("expected pre-roll packet at 19, got %d", p.Offset())
	}
	if p := mustNext(t, f.r); p != target {
		t.Fatalf("expected target after pre-roll, got offset %d", p.Offset())
	}

	if err := f.r.SeekToPacket(target, 2); err != nil {
		t.Fatalf("SeekToPacket to head: %v", err)
	}
	if p := mustNext(t, f.r); p.Offset() != 0 {
		t.Fatalf("expected head packet, got %d", p.Offset())
	}
}

func TestSeekToPacket_OutOfRangeKeepsCursor(t *testing.T) {
	f, c := headerAndPage(t)
	mustNext(t, f.r)
	target, err := f.r.FindPacket(900, c.count)
	if err != nil {
		t.Fatalf("FindPacket: %v", err)
	}

	if err := f.r.SeekToPacket(target, 3); !errors.Is(err, ErrPreRollOutOfRange) {
		t.Fatalf("expected ErrPreRollOutOfRange, got %v", err)
	}
	if p := mustNext(t, f.r); p.Offset() != 19 {
		t.Fatalf("cursor moved: next packet at %d", p.Offset())
	}
}

func TestSeekToPacket_UsageErrors(t *testing.T) {
	f, _ := headerAndPage(t)
	p := mustNext(t, f.r)

	if err := f.r.SeekToPacket(p, -1); !errors.Is(err, ErrInvalidPreRoll) {
		t.Fatalf("expected ErrInvalidPreRoll, got %v", err)
	}
	if err := f.r.SeekToPacket(nil, 0); !errors.Is(err, ErrNilPacket) {
		t.Fatalf("expected ErrNilPacket, got %v", err)
	}
	other, _ := headerAndPage(t)
	if err := other.r.SeekToPacket(p, 0); !errors.Is(err, ErrForeignPacket) {
		t.Fatalf("expected ErrForeignPacket, got %v", err)
	}
}
