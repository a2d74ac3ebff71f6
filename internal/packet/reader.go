package packet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for resync and end-of-stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithContext sets the parent context of the spans a Reader records.
func WithContext(ctx context.Context) Option {
	return func(r *Reader) {
		if ctx != nil {
			r.ctx = ctx
		}
	}
}

// WithFirstPacketTolerance lets the first packet of a stream claim up to n
// granules more than the start of the packet after it.
func WithFirstPacketTolerance(n int64) Option {
	return func(r *Reader) {
		if n > 0 {
			r.firstTolerance = n
		}
	}
}

// Reader assembles the packets of one logical stream and hands them out
// sequentially or by seek.
//
// Ingestion (AddPacket, SetEndOfStream) may run on the goroutine that drives
// the container while another goroutine consumes packets; consumption itself
// is single-threaded.
type Reader struct {
	ctx    context.Context
	logger *slog.Logger
	tracer trace.Tracer

	serial         uint32
	firstTolerance int64

	mu        sync.Mutex
	container Container
	first     *Packet
	current   *Packet
	last      *Packet
	eos       bool
	closed    bool
	overhead  int64
}

// NewReader returns a Reader for the logical stream serial of c.
func NewReader(c Container, serial uint32, opts ...Option) *Reader {
	r := &Reader{
		ctx:       context.Background(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("oggstream/internal/packet"),
		serial:    serial,
		container: c,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.Any("serial", serial))
	return r
}

func (r *Reader) Serial() uint32 { return r.serial }

// EndOfStream reports whether the last packet of the stream has been seen.
func (r *Reader) EndOfStream() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eos
}

// AddOverhead records n bytes of container framing, such as page headers,
// spent on this stream.
func (r *Reader) AddOverhead(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overhead += n
}

// Overhead is the container framing seen so far for this stream, in bytes.
func (r *Reader) Overhead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overhead
}

// CanSeek reports whether random access is available.
func (r *Reader) CanSeek() bool {
	c := r.containerRef()
	return c != nil && c.CanSeek()
}

func (r *Reader) containerRef() Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.container
}

// AddPacket appends a fragment delivered by the container. A continuation is
// merged into the tail; anything else becomes the new tail.
func (r *Reader) AddPacket(p *Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eos {
		return nil
	}

	if p.IsResync() {
		// the fragment after a sync loss cannot complete anything
		p.setFlag(FlagContinuation, false)
		if r.last != nil && r.last.IsContinued() {
			r.last.setFlag(FlagContinued, false)
			r.logger.Warn("dropping continuation across resync",
				slog.Int64("offset", p.offset))
		}
	}

	if p.IsContinuation() {
		if r.last == nil {
			return fmt.Errorf("continuation at offset %d with no packet to continue: %w", p.offset, ErrInvalidData)
		}
		if !r.last.IsContinued() {
			return fmt.Errorf("continuation at offset %d but previous packet is complete: %w", p.offset, ErrInvalidData)
		}
		p.owner = r
		r.last.MergeWith(p)
		r.last.setFlag(FlagContinued, p.IsContinued())
	} else {
		p.owner = r
		if r.last == nil {
			r.first = p
		} else {
			p.prev = r.last
			r.last.next = p
		}
		r.last = p
	}

	if p.IsEndOfStream() {
		r.setEndOfStreamLocked()
	}
	return nil
}

// SetEndOfStream records that no more packets will arrive. A tail still
// waiting for its continuation can never complete and is dropped.
func (r *Reader) SetEndOfStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setEndOfStreamLocked()
}

func (r *Reader) setEndOfStreamLocked() {
	r.eos = true
	if r.last == nil || !r.last.IsContinued() {
		return
	}
	dangling := r.last
	r.logger.Debug("pruning incomplete packet at end of stream",
		slog.Int64("offset", dangling.offset),
		slog.Int("length", dangling.length))
	r.last = dangling.prev
	if r.last == nil {
		r.first = nil
	} else {
		r.last.next = nil
	}
	dangling.prev = nil
	if r.current == dangling {
		r.current = r.last
	}
}

// gather asks the container for the next page of this stream. It must be
// called without r.mu held.
func (r *Reader) gather() error {
	c := r.containerRef()
	if c == nil {
		return ErrClosed
	}
	if err := c.GatherNextPage(r.serial); err != nil {
		return fmt.Errorf("gather page for stream %d: %w", r.serial, err)
	}
	return nil
}

// candidate returns the packet after the cursor, pulling pages until it is
// complete or the stream has ended.
func (r *Reader) candidate() (*Packet, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		p := r.first
		if r.current != nil {
			p = r.current.next
		}
		incomplete := p != nil && p.IsContinued()
		ready := (p != nil && !incomplete) || r.eos
		r.mu.Unlock()

		if ready {
			if incomplete {
				return nil, fmt.Errorf("packet at offset %d: %w", p.offset, ErrIncompletePacket)
			}
			return p, nil
		}
		if err := r.gather(); err != nil {
			return nil, err
		}
	}
}

// GetNextPacket returns the packet after the cursor and advances to it. It
// returns io.EOF once the stream is exhausted, without moving the cursor.
func (r *Reader) GetNextPacket() (*Packet, error) {
	p, err := r.candidate()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, io.EOF
	}
	r.mu.Lock()
	r.current = p
	r.mu.Unlock()
	p.Reset()
	return p, nil
}

// PeekNextPacket is GetNextPacket without advancing the cursor.
func (r *Reader) PeekNextPacket() (*Packet, error) {
	p, err := r.candidate()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, io.EOF
	}
	p.Reset()
	return p, nil
}

func (r *Reader) requireSeekable() error {
	if !r.CanSeek() {
		return ErrNotSeekable
	}
	return nil
}

// GetPacket returns the packet at index, counting from the head of the list.
func (r *Reader) GetPacket(index int) (*Packet, error) {
	if err := r.requireSeekable(); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, fmt.Errorf("packet index %d: %w", index, ErrOutOfRange)
	}

	var p *Packet
	for i := 0; i <= index; {
		r.mu.Lock()
		next := r.first
		if p != nil {
			next = p.next
		}
		ready := next != nil && !next.IsContinued()
		eos := r.eos
		r.mu.Unlock()

		if ready {
			p = next
			i++
			continue
		}
		if eos {
			return nil, fmt.Errorf("packet index %d: %w", index, ErrPacketNotFound)
		}
		if err := r.gather(); err != nil {
			return nil, err
		}
	}
	p.Reset()
	return p, nil
}

// ReadAllPages pulls pages until the end of the stream.
func (r *Reader) ReadAllPages() error {
	if err := r.requireSeekable(); err != nil {
		return err
	}
	_, span := r.tracer.Start(r.ctx, "packet.ReadAllPages",
		trace.WithAttributes(attribute.Int64("ogg.serial", int64(r.serial))))
	defer span.End()

	for !r.EndOfStream() {
		if err := r.gather(); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// GetLastPacket reads the whole stream and returns its final packet.
func (r *Reader) GetLastPacket() (*Packet, error) {
	if err := r.ReadAllPages(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	p := r.last
	r.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("stream %d is empty: %w", r.serial, ErrPacketNotFound)
	}
	p.Reset()
	return p, nil
}

// GetTotalPageCount reads the whole stream and counts the pages its packets
// end on.
func (r *Reader) GetTotalPageCount() (int, error) {
	if err := r.ReadAllPages(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	var lastSeq uint32
	for p := r.first; p != nil; p = p.next {
		if count == 0 || p.PageSequenceNumber != lastSeq {
			count++
			lastSeq = p.PageSequenceNumber
		}
	}
	return count, nil
}

// TotalGranules reads the whole stream and returns the granule position of
// its last page.
func (r *Reader) TotalGranules() (int64, error) {
	p, err := r.GetLastPacket()
	if err != nil {
		return 0, err
	}
	return p.PageGranulePosition, nil
}

// Close detaches the Reader from its container and unlinks every packet.
// Fragments delivered afterwards are ignored.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.eos = true
	c := r.container
	r.container = nil
	r.current = nil
	for p := r.first; p != nil; {
		next := p.next
		p.next, p.prev = nil, nil
		p = next
	}
	r.first, r.last = nil, nil
	r.mu.Unlock()

	if c != nil {
		c.ReleaseStream(r.serial)
	}
	return nil
}
