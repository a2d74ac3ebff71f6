// Package oggdemux reads Ogg pages from a byte stream and feeds their
// fragments to one packet.Reader per logical stream.
//
// Page CRCs are not verified. When the data at the expected offset is not a
// page, the demuxer scans forward for the next capture pattern and flags the
// first fragment it finds there as a resync.
package oggdemux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"oggstream/internal/packet"
	"oggstream/internal/stream"
)

var (
	ErrUnknownStream = errors.New("unknown logical stream")
	ErrSyncLost      = errors.New("lost page sync")
)

// DefaultResyncLimit bounds the bytes scanned for the next page header.
const DefaultResyncLimit = 64 << 10

// Option configures a Demuxer.
type Option func(*Demuxer)

func WithLogger(l *slog.Logger) Option {
	return func(d *Demuxer) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Demuxer) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithNewStreamHandler is called with the Reader of every new logical
// stream after its first page was added. Returning true ignores the stream.
// The handler runs while the demuxer is reading pages and must not read
// packets itself.
func WithNewStreamHandler(fn func(r *packet.Reader) bool) Option {
	return func(d *Demuxer) { d.onNewStream = fn }
}

// WithMaxBufferBytes bounds the read window.
func WithMaxBufferBytes(n int) Option {
	return func(d *Demuxer) { d.maxBuffer = n }
}

// WithResyncLimit bounds the bytes scanned after sync is lost.
func WithResyncLimit(n int) Option {
	return func(d *Demuxer) {
		if n > 0 {
			d.resyncLimit = n
		}
	}
}

// WithReaderOptions are applied to every packet.Reader the demuxer creates.
func WithReaderOptions(opts ...packet.Option) Option {
	return func(d *Demuxer) { d.readerOpts = append(d.readerOpts, opts...) }
}

// Demuxer is the Ogg container reader. It implements packet.Container.
type Demuxer struct {
	ctx         context.Context
	logger      *slog.Logger
	observer    Observer
	onNewStream func(*packet.Reader) bool
	maxBuffer   int
	resyncLimit int
	readerOpts  []packet.Option

	buf *stream.Buffer

	// mu serializes page reads; it is taken before streamsMu and before any
	// Reader lock.
	mu             sync.Mutex
	nextPageOffset int64
	pagesRead      int
	wasteBytes     int64
	exhausted      bool
	lastBOS        bool

	streamsMu sync.Mutex
	readers   map[uint32]*packet.Reader
	order     []uint32
	disposed  map[uint32]bool
}

var _ packet.Container = (*Demuxer)(nil)

// New returns a Demuxer reading from r. Random access is available when r
// is an io.ReaderAt.
func New(ctx context.Context, r io.Reader, opts ...Option) *Demuxer {
	if ctx == nil {
		ctx = context.Background()
	}
	d := &Demuxer{
		ctx:         ctx,
		logger:      slog.Default(),
		observer:    nopObserver{},
		resyncLimit: DefaultResyncLimit,
		readers:     make(map[uint32]*packet.Reader),
		disposed:    make(map[uint32]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buf = stream.NewBuffer(r, d.maxBuffer)
	return d
}

// Init reads the first page. It reports false when the input holds no page.
func (d *Demuxer) Init() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.gatherNextPage()
	if err != nil {
		return false, err
	}
	if !res.ok {
		d.markExhausted()
	}
	return res.ok, nil
}

type gatherResult struct {
	serial uint32
	isNew  bool
	ok     bool
}

// gatherNextPage parses the next page of any stream and dispatches it.
// Caller holds d.mu.
func (d *Demuxer) gatherNextPage() (gatherResult, error) {
	for {
		if d.exhausted {
			return gatherResult{}, nil
		}
		if err := d.ctx.Err(); err != nil {
			return gatherResult{}, err
		}

		h, err := d.findNextPage()
		if err == io.EOF {
			return gatherResult{}, nil
		}
		if err != nil {
			return gatherResult{}, err
		}
		d.nextPageOffset = h.end()
		d.pagesRead++
		d.lastBOS = h.flags&flagBOS != 0
		d.observer.PageRead(h.serial, int(h.end()-h.offset))

		r, isNew, skip := d.readerFor(h.serial)
		if skip {
			continue
		}
		if err := d.addPage(r, h); err != nil {
			return gatherResult{}, err
		}
		if isNew {
			d.logger.Debug("new logical stream",
				slog.Any("serial", h.serial),
				slog.Bool("bos", h.flags&flagBOS != 0))
			d.observer.StreamFound(h.serial)
			if d.onNewStream != nil && d.onNewStream(r) {
				_ = r.Close()
				continue
			}
		}
		return gatherResult{serial: h.serial, isNew: isNew, ok: true}, nil
	}
}

// readerFor returns the Reader for serial, creating it on first sight. skip
// is set for released streams.
func (d *Demuxer) readerFor(serial uint32) (r *packet.Reader, isNew, skip bool) {
	d.streamsMu.Lock()
	defer d.streamsMu.Unlock()
	if d.disposed[serial] {
		return nil, false, true
	}
	if r, ok := d.readers[serial]; ok {
		return r, false, false
	}
	opts := append([]packet.Option{
		packet.WithLogger(d.logger),
		packet.WithContext(d.ctx),
	}, d.readerOpts...)
	r = packet.NewReader(d, serial, opts...)
	d.readers[serial] = r
	d.order = append(d.order, serial)
	return r, true, false
}

// addPage hands the page's fragments to r.
func (d *Demuxer) addPage(r *packet.Reader, h *pageHeader) error {
	r.AddOverhead(h.dataOffset - h.offset)
	n := len(h.sizes)
	if n == 0 {
		if h.flags&flagEOS != 0 {
			r.SetEndOfStream()
		}
		return nil
	}

	off := h.dataOffset
	for i, size := range h.sizes {
		var fl packet.Flags
		if i == 0 {
			if h.flags&flagContinued != 0 {
				fl |= packet.FlagContinuation
			}
			if h.resync {
				fl |= packet.FlagResync
			}
		}
		if i == n-1 {
			if h.lastContinues {
				fl |= packet.FlagContinued
			}
			if h.flags&flagEOS != 0 {
				fl |= packet.FlagEndOfStream
			}
		}
		p := packet.New(d, off, size, fl)
		p.PageGranulePosition = h.granule
		p.PageSequenceNumber = h.seq
		if err := r.AddPacket(p); err != nil {
			return fmt.Errorf("page %d of stream %d: %w", h.seq, h.serial, err)
		}
		off += int64(size)
	}
	return nil
}

// markExhausted ends every stream still waiting for pages. Caller holds d.mu.
func (d *Demuxer) markExhausted() {
	d.exhausted = true
	for _, r := range d.liveReaders() {
		if !r.EndOfStream() {
			r.SetEndOfStream()
		}
	}
}

func (d *Demuxer) liveReaders() []*packet.Reader {
	d.streamsMu.Lock()
	defer d.streamsMu.Unlock()
	out := make([]*packet.Reader, 0, len(d.order))
	for _, s := range d.order {
		out = append(out, d.readers[s])
	}
	return out
}

func (d *Demuxer) waste(n int64) {
	if n <= 0 {
		return
	}
	d.wasteBytes += n
	d.observer.Resync(n)
	d.logger.Warn("skipped bytes to regain page sync",
		slog.Int64("bytes", n),
		slog.Int64("offset", d.nextPageOffset))
}

// GatherNextPage reads pages until one for serial has been added or the
// input ends.
func (d *Demuxer) GatherNextPage(serial uint32) error {
	d.streamsMu.Lock()
	r, ok := d.readers[serial]
	disposed := d.disposed[serial]
	d.streamsMu.Unlock()
	if !ok {
		if disposed {
			return nil
		}
		return fmt.Errorf("stream %d: %w", serial, ErrUnknownStream)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for !r.EndOfStream() {
		res, err := d.gatherNextPage()
		if err != nil {
			return err
		}
		if !res.ok {
			d.markExhausted()
			return nil
		}
		if res.serial == serial {
			return nil
		}
	}
	return nil
}

// PacketReadByte implements packet.Container.
func (d *Demuxer) PacketReadByte(offset int64) (byte, error) {
	return d.buf.ReadByteAt(offset)
}

// PacketDiscardThrough implements packet.Container.
func (d *Demuxer) PacketDiscardThrough(offset int64) {
	if n := d.buf.DiscardThrough(offset); n > 0 {
		d.observer.Discarded(n)
	}
}

// CanSeek implements packet.Container.
func (d *Demuxer) CanSeek() bool { return d.buf.CanSeek() }

// ReleaseStream implements packet.Container. Later pages of serial are
// skipped.
func (d *Demuxer) ReleaseStream(serial uint32) {
	d.streamsMu.Lock()
	defer d.streamsMu.Unlock()
	if _, ok := d.readers[serial]; !ok {
		return
	}
	delete(d.readers, serial)
	d.disposed[serial] = true
	for i, s := range d.order {
		if s == serial {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.logger.Debug("released logical stream", slog.Any("serial", serial))
}

// Streams lists the live logical streams in discovery order.
func (d *Demuxer) Streams() []uint32 {
	d.streamsMu.Lock()
	defer d.streamsMu.Unlock()
	return append([]uint32(nil), d.order...)
}

// Stream returns the Reader of a live logical stream.
func (d *Demuxer) Stream(serial uint32) (*packet.Reader, error) {
	d.streamsMu.Lock()
	defer d.streamsMu.Unlock()
	r, ok := d.readers[serial]
	if !ok {
		return nil, fmt.Errorf("stream %d: %w", serial, ErrUnknownStream)
	}
	return r, nil
}

// FindNextStream reads pages until a logical stream not seen before starts.
func (d *Demuxer) FindNextStream() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		res, err := d.gatherNextPage()
		if err != nil {
			return false, err
		}
		if !res.ok {
			d.markExhausted()
			return false, nil
		}
		if res.isNew {
			return true, nil
		}
	}
}

// DiscoverStreams reads pages for as long as they begin a logical stream and
// returns the number of live streams. Ogg places the BOS pages of every
// multiplexed stream ahead of their data pages, so on a forward-only input
// this finds all streams of the first link before any packet is consumed.
func (d *Demuxer) DiscoverStreams() (int, error) {
	d.mu.Lock()
	for d.pagesRead == 0 || d.lastBOS {
		res, err := d.gatherNextPage()
		if err != nil {
			d.mu.Unlock()
			return 0, err
		}
		if !res.ok {
			d.markExhausted()
			break
		}
	}
	d.mu.Unlock()
	return len(d.Streams()), nil
}

// TotalPageCount reads the rest of the input and returns the number of
// pages in it.
func (d *Demuxer) TotalPageCount() (int, error) {
	if !d.CanSeek() {
		return 0, packet.ErrNotSeekable
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		res, err := d.gatherNextPage()
		if err != nil {
			return 0, err
		}
		if !res.ok {
			d.markExhausted()
			return d.pagesRead, nil
		}
	}
}

// PagesRead is the number of pages parsed so far.
func (d *Demuxer) PagesRead() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pagesRead
}

// WasteBytes is the number of bytes skipped while regaining sync.
func (d *Demuxer) WasteBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wasteBytes
}

// Close closes every Reader and the underlying input.
func (d *Demuxer) Close() error {
	for _, r := range d.liveReaders() {
		_ = r.Close()
	}
	return d.buf.Close()
}

// GranuleDuration converts a granule position to playback time, after the
// pre-skip samples a decoder drops.
func GranuleDuration(granule, preSkip int64, sampleRate int) time.Duration {
	if sampleRate <= 0 || granule <= preSkip {
		return 0
	}
	samples := granule - preSkip
	rate := int64(sampleRate)
	secs := samples / rate
	rem := samples % rate
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}
