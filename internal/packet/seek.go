package packet

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FindPacket returns the packet whose granule span (pos-count, pos] holds
// target. count is asked only for packets whose span is not known yet; the
// answers are kept on the packets.
func (r *Reader) FindPacket(target int64, count GranuleCounter) (*Packet, error) {
	if target < 0 {
		return nil, fmt.Errorf("granule %d: %w", target, ErrNegativeGranule)
	}
	if count == nil {
		return nil, ErrNilCounter
	}

	_, span := r.tracer.Start(r.ctx, "packet.FindPacket", trace.WithAttributes(
		attribute.Int64("ogg.serial", int64(r.serial)),
		attribute.Int64("ogg.granule.target", target),
	))
	defer span.End()

	p, err := r.findPacket(target, count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if pos, ok := p.GranulePosition(); ok {
		span.SetAttributes(attribute.Int64("ogg.granule.found", pos))
	}
	return p, nil
}

func (r *Reader) findPacket(target int64, count GranuleCounter) (*Packet, error) {
	p, err := r.seekStart()
	if err != nil {
		return nil, err
	}

	if target > p.PageGranulePosition {
		for target > p.PageGranulePosition {
			r.mu.Lock()
			next := p.next
			ready := next != nil && !next.IsContinued()
			eos := r.eos
			r.mu.Unlock()

			if ready {
				p = next
				continue
			}
			if eos {
				return nil, fmt.Errorf("granule %d is past the end of stream %d: %w", target, r.serial, ErrGranuleNotFound)
			}
			if err := r.gather(); err != nil {
				return nil, err
			}
		}
		return r.findInPage(p, target, count)
	}

	r.mu.Lock()
	for p.prev != nil && (target <= p.prev.PageGranulePosition || p.prev.PageGranulePosition == -1) {
		p = p.prev
	}
	r.mu.Unlock()
	return r.findInPage(p, target, count)
}

// seekStart is the cursor, or the head once a complete packet is there.
func (r *Reader) seekStart() (*Packet, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		p := r.current
		if p == nil {
			p = r.first
		}
		ready := p != nil && !p.IsContinued()
		eos := r.eos
		r.mu.Unlock()

		if ready {
			return p, nil
		}
		if eos {
			return nil, fmt.Errorf("stream %d has no packets: %w", r.serial, ErrGranuleNotFound)
		}
		if err := r.gather(); err != nil {
			return nil, err
		}
	}
}

// lastInPage returns the last complete packet ending on p's page.
func (r *Reader) lastInPage(p *Packet) *Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p.next != nil && p.next.PageSequenceNumber == p.PageSequenceNumber {
		p = p.next
	}
	if p.IsContinued() {
		p = p.prev
	}
	return p
}

func (r *Reader) findInPage(pagePacket *Packet, target int64, count GranuleCounter) (*Packet, error) {
	last := r.lastInPage(pagePacket)
	if last == nil {
		return nil, fmt.Errorf("granule %d: %w", target, ErrGranuleNotFound)
	}

	r.mu.Lock()
	tail, eos := r.last, r.eos
	r.mu.Unlock()

	page := last.PageSequenceNumber
	p := last
	for {
		r.mu.Lock()
		prev, next := p.prev, p.next
		r.mu.Unlock()

		if !p.hasCount {
			var pos int64
			if p == last {
				pos = p.PageGranulePosition
			} else {
				pos = next.granulePos - int64(next.granuleCount)
			}

			var n int
			switch {
			case p == tail && eos && prev != nil && prev.PageSequenceNumber < p.PageSequenceNumber:
				// final packet may be shorter than the codec says
				n = int(pos - prev.PageGranulePosition)
			case prev != nil:
				prev.Reset()
				p.Reset()
				c, err := count(p, prev)
				if err != nil {
					return nil, fmt.Errorf("count granules of packet at offset %d: %w", p.offset, err)
				}
				n = c
			default:
				if next != nil && next.hasCount {
					start := next.granulePos - int64(next.granuleCount)
					if pos > start+r.firstTolerance {
						return nil, fmt.Errorf("first packet ends at %d, next starts at %d: %w", pos, start, ErrFirstPacketMismatch)
					}
				}
				n = int(pos)
			}
			p.setGranule(pos, n)
		}

		pos := p.granulePos
		span := int64(p.granuleCount)
		if target <= pos && target > pos-span {
			if prev != nil {
				prev.presetPosition(pos - span)
			}
			return p, nil
		}

		p = prev
		if p == nil || p.PageSequenceNumber != page {
			break
		}
	}

	// target falls between the previous page's stamp and this page's first
	// packet, so the first packet of this page is the answer
	if p != nil && p.PageGranulePosition < target {
		p.presetPosition(p.PageGranulePosition)
		r.mu.Lock()
		next := p.next
		r.mu.Unlock()
		if next != nil {
			return next, nil
		}
	}
	return nil, fmt.Errorf("granule %d: %w", target, ErrGranuleNotFound)
}

// SeekToPacket positions the cursor so that the next GetNextPacket returns
// the packet preRoll steps before p.
func (r *Reader) SeekToPacket(p *Packet, preRoll int) error {
	if preRoll < 0 {
		return fmt.Errorf("pre-roll %d: %w", preRoll, ErrInvalidPreRoll)
	}
	if p == nil {
		return ErrNilPacket
	}
	if p.owner != r {
		return ErrForeignPacket
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	op := p
	for i := 0; i < preRoll; i++ {
		op = op.prev
		if op == nil {
			return fmt.Errorf("pre-roll %d before offset %d: %w", preRoll, p.offset, ErrPreRollOutOfRange)
		}
	}
	r.current = op.prev
	return nil
}
