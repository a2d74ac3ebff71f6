package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"oggstream/internal/config"
	"oggstream/internal/inspect"
	"oggstream/internal/oggdemux"
	"oggstream/internal/opus"
	"oggstream/internal/packet"
	"oggstream/internal/types"
	"oggstream/pkg/protocol"
)

type options struct {
	path     string
	serial   int64
	seek     int64
	preRoll  int
	limit    int
	json     bool
	quiet    bool
	logLevel string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("oggpackets", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, showHelp()) }

	fs.Int64Var(&o.serial, "serial", -1, "only show this logical stream")
	fs.Int64Var(&o.seek, "seek", -1, "start at the packet holding this granule position")
	fs.IntVar(&o.preRoll, "preroll", 0, "packets to back off from the seek target")
	fs.IntVar(&o.limit, "limit", 0, "stop after this many packets per stream")
	fs.BoolVar(&o.json, "json", false, "print JSON lines")
	fs.BoolVar(&o.quiet, "quiet", false, "only print the stream summary")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level")
	help := fs.Bool("help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *help {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("expected one FILE argument, got %d", fs.NArg())
	}
	o.path = fs.Arg(0)

	if o.serial > math.MaxUint32 {
		return nil, fmt.Errorf("serial %d does not fit in 32 bits", o.serial)
	}
	if o.preRoll < 0 || o.limit < 0 {
		return nil, errors.New("preroll and limit must not be negative")
	}
	if o.preRoll > 0 && o.seek < 0 {
		return nil, errors.New("preroll needs -seek")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	logCfg := config.LoggingConfig{Level: o.logLevel, Format: "text"}
	if err := logCfg.Validate(); err != nil {
		return err
	}
	logger := logCfg.NewLogger(stderr)

	var src io.Reader
	if o.path == "-" {
		// hide ReaderAt so a piped stdin is buffered as a forward-only input
		src = struct{ io.Reader }{stdin}
	} else {
		// closed by the demuxer
		f, err := os.Open(o.path)
		if err != nil {
			return err
		}
		src = f
	}

	d := oggdemux.New(ctx, src,
		oggdemux.WithLogger(logger),
		oggdemux.WithReaderOptions(packet.WithLogger(logger), packet.WithContext(ctx)),
	)
	defer d.Close()

	ok, err := d.Init()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("input holds no Ogg page")
	}

	out := newPrinter(stdout, o.json)
	if d.CanSeek() {
		err = listSeekable(ctx, d, o, out, logger)
	} else {
		err = listForward(ctx, d, o, out, logger)
	}
	if err != nil {
		return err
	}
	return out.flush()
}

// listSeekable reads the whole input up front and then lists one stream
// after another.
func listSeekable(ctx context.Context, d *oggdemux.Demuxer, o *options, out *printer, logger *slog.Logger) error {
	if _, err := d.TotalPageCount(); err != nil {
		return err
	}
	serials := d.Streams()
	if o.serial >= 0 {
		if !slices.Contains(serials, uint32(o.serial)) {
			return fmt.Errorf("%w: %d", oggdemux.ErrUnknownStream, o.serial)
		}
		serials = []uint32{uint32(o.serial)}
	}

	for _, serial := range serials {
		r, err := d.Stream(serial)
		if err != nil {
			return err
		}
		info, err := inspect.Describe(r)
		if err != nil {
			return fmt.Errorf("stream %d: %w", serial, err)
		}
		if err := out.stream(info, true); err != nil {
			return err
		}
		if o.quiet {
			continue
		}
		if o.seek >= 0 {
			if info.Codec != types.CodecOpus {
				logger.Warn("seek skipped: unsupported codec", "serial", serial, "codec", info.Codec)
				continue
			}
			if err := seek(r, o.seek, o.preRoll); err != nil {
				return fmt.Errorf("stream %d: %w", serial, err)
			}
		}
		if err := dump(ctx, r, out, o.limit); err != nil {
			return fmt.Errorf("stream %d: %w", serial, err)
		}
	}
	return nil
}

// listForward lists the packets of every stream in input order. Bytes are
// released only up to the earliest packet a live stream still needs, since
// one stream's Done would drop the unread pages of the others.
func listForward(ctx context.Context, d *oggdemux.Demuxer, o *options, out *printer, logger *slog.Logger) error {
	if o.seek >= 0 {
		return packet.ErrNotSeekable
	}
	if _, err := d.DiscoverStreams(); err != nil {
		return err
	}

	seen := make(map[uint32]bool)
	sent := make(map[uint32]int)
	var live []*packet.Reader
	reading := false

	adopt := func() error {
		for _, serial := range d.Streams() {
			if seen[serial] {
				continue
			}
			seen[serial] = true
			r, err := d.Stream(serial)
			if err != nil {
				return err
			}
			if o.serial >= 0 && serial != uint32(o.serial) {
				_ = r.Close()
				continue
			}
			if reading && len(live) > 0 {
				logger.Warn("logical stream started after packets of other streams were read",
					"serial", serial)
			}
			info, err := inspect.Describe(r)
			if err != nil {
				return fmt.Errorf("stream %d: %w", serial, err)
			}
			if err := out.stream(info, false); err != nil {
				return err
			}
			live = append(live, r)
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := adopt(); err != nil {
			return err
		}
		if len(live) == 0 {
			// a chained stream begins once every earlier one has ended
			found, err := d.FindNextStream()
			if err != nil {
				return err
			}
			if !found {
				break
			}
			continue
		}

		var next *packet.Reader
		var low int64
		remaining := live[:0]
		for _, r := range live {
			p, err := r.PeekNextPacket()
			if errors.Is(err, io.EOF) {
				_ = r.Close()
				continue
			}
			if err != nil {
				return fmt.Errorf("stream %d: %w", r.Serial(), err)
			}
			remaining = append(remaining, r)
			if next == nil || p.Offset() < low {
				next, low = r, p.Offset()
			}
		}
		live = remaining
		if next == nil || unseen(d, seen) {
			// a stream found while peeking joins before anything is released
			continue
		}
		d.PacketDiscardThrough(low)

		p, err := next.GetNextPacket()
		if err != nil {
			return fmt.Errorf("stream %d: %w", next.Serial(), err)
		}
		reading = true
		serial := next.Serial()
		if !o.quiet {
			if err := out.packet(serial, sent[serial], inspect.PacketInfo(p)); err != nil {
				return err
			}
		}
		sent[serial]++
		if o.limit > 0 && sent[serial] == o.limit {
			_ = next.Close()
			live = slices.DeleteFunc(live, func(r *packet.Reader) bool { return r == next })
		}
	}

	if o.serial >= 0 && !seen[uint32(o.serial)] {
		return fmt.Errorf("%w: %d", oggdemux.ErrUnknownStream, o.serial)
	}
	return nil
}

func unseen(d *oggdemux.Demuxer, seen map[uint32]bool) bool {
	for _, serial := range d.Streams() {
		if !seen[serial] {
			return true
		}
	}
	return false
}

func seek(r *packet.Reader, granule int64, preRoll int) error {
	// no packet ends at granule 0
	if granule == 0 {
		granule = 1
	}
	p, err := r.FindPacket(granule, opus.Counter())
	if err != nil {
		return err
	}
	return r.SeekToPacket(p, preRoll)
}

func dump(ctx context.Context, r *packet.Reader, out *printer, limit int) error {
	for seq := 0; limit == 0 || seq < limit; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := r.GetNextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := out.packet(r.Serial(), seq, inspect.PacketInfo(p)); err != nil {
			return err
		}
		p.Done()
	}
	return nil
}

type streamLine struct {
	Type string `json:"type"`
	types.StreamInfo
}

type printer struct {
	json   bool
	enc    *json.Encoder
	tw     *tabwriter.Writer
	header bool
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	if asJSON {
		return &printer{json: true, enc: json.NewEncoder(w)}
	}
	return &printer{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (p *printer) stream(info types.StreamInfo, seekable bool) error {
	if p.json {
		return p.enc.Encode(streamLine{Type: "stream", StreamInfo: info})
	}
	if err := p.flush(); err != nil {
		return err
	}
	p.header = false

	line := fmt.Sprintf("stream %d: %s", info.Serial, info.Codec)
	if info.Codec == types.CodecOpus {
		line += fmt.Sprintf(", %d ch, pre-skip %d", info.Channels, info.PreSkip)
	}
	if seekable {
		line += fmt.Sprintf(", %d pages, %d granules, %s",
			info.Pages, info.Granules, formatDuration(time.Duration(info.DurationMS)*time.Millisecond))
	}
	if info.EndOfStream {
		line += ", complete"
	}
	_, err := fmt.Fprintln(p.tw, line)
	return err
}

func (p *printer) packet(serial uint32, seq int, info types.PacketInfo) error {
	if p.json {
		return p.enc.Encode(protocol.Event{Type: protocol.EventPacket, Serial: serial, Seq: seq, Packet: &info})
	}
	if !p.header {
		fmt.Fprintln(p.tw, "SERIAL\tSEQ\tOFFSET\tSIZE\tPAGE\tPAGE GRANULE\tGRANULE\tSAMPLES\tFLAGS")
		p.header = true
	}
	_, err := fmt.Fprintf(p.tw, "%d\t%d\t%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
		serial,
		seq,
		info.Offset,
		formatBytes(int64(info.Length)),
		info.PageSequenceNumber,
		info.PageGranulePosition,
		optional(info.GranulePosition),
		optional(info.GranuleCount),
		flags(info),
	)
	return err
}

func (p *printer) flush() error {
	if p.json {
		return nil
	}
	return p.tw.Flush()
}

func optional[T int | int64](v *T) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func flags(info types.PacketInfo) string {
	s := ""
	if info.Resync {
		s += "R"
	}
	if info.EndOfStream {
		s += "E"
	}
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms)
	}
	return fmt.Sprintf("%d:%02d.%03d", m, s, ms)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
