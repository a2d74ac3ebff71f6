package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "oggpackets: %v\n", err)
		os.Exit(1)
	}
}

func showHelp() string {
	return `oggpackets - list the logical streams and packets of an Ogg file

USAGE:
    oggpackets [OPTIONS] FILE

    FILE may be "-" to read stdin. Seeking and totals then are unavailable
    and the packets of all streams are listed in input order.

OPTIONS:
    -serial uint
        Only show this logical stream (default: all)
    -seek int
        Start at the packet holding this granule position (Opus only)
    -preroll int
        Packets to back off from the seek target (default: 0)
    -limit int
        Stop after this many packets per stream (default: no limit)
    -json
        Print one JSON object per line instead of a table
    -quiet
        Only print the stream summary
    -log-level string
        debug, info, warn or error (default: warn)
    -help
        Show this help message

EXAMPLES:
    # Summarise every stream
    oggpackets -quiet talk.opus

    # Packets from 1.5 s on, with one packet of decoder pre-roll
    oggpackets -seek 72000 -preroll 1 talk.opus

    # Decode a live stream from ffmpeg
    ffmpeg -i input.mp3 -c:a libopus -f opus - | oggpackets -limit 50 -
`
}
