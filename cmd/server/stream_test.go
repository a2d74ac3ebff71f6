package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	cidpkg "oggstream/internal/cid"
	"oggstream/pkg/client"
)

func newClient(t *testing.T, ts *testServer) (*client.Client, context.Context) {
	t.Helper()
	srv := ts.serve(t)
	c, err := client.New(client.Config{ServerURL: srv.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c, ctx
}

func readAll(t *testing.T, ctx context.Context, sub *client.Subscriber) []*client.Packet {
	t.Helper()
	var out []*client.Packet
	for {
		p, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("next after %d packets: %v", len(out), err)
		}
		out = append(out, p)
	}
}

func TestStreamWholeStream(t *testing.T) {
	ts := newTestServer(t, nil)
	c, ctx := newClient(t, ts)

	info, err := c.Upload(ctx, "a.opus", bytes.NewReader(opusFile()))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	sub, err := c.Subscribe(ctx, info.ID, testSerial, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if sub.CID() == "" {
		t.Fatalf("expected a generated CID")
	}

	packets := readAll(t, ctx, sub)
	if len(packets) != 7 {
		t.Fatalf("expected 7 packets, got %d", len(packets))
	}
	if !bytes.HasPrefix(packets[0].Data, []byte("OpusHead")) {
		t.Fatalf("expected OpusHead first, got %q", packets[0].Data)
	}
	if !bytes.Equal(packets[2].Data, frame20) || !bytes.Equal(packets[6].Data, frame10) {
		t.Fatalf("unexpected payloads %v %v", packets[2].Data, packets[6].Data)
	}
	for i, p := range packets {
		if p.Seq != i || p.Serial != testSerial {
			t.Fatalf("packet %d has seq %d serial %d", i, p.Seq, p.Serial)
		}
	}
	if !packets[6].Info.EndOfStream || packets[5].Info.EndOfStream {
		t.Fatalf("expected only the last packet to carry end of stream")
	}
	if got := testutil.ToFloat64(ts.metrics.PacketsStreamed); got != 7 {
		t.Fatalf("expected 7 streamed packets, got %v", got)
	}
}

func TestStreamAfterSeekWithLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	c, ctx := newClient(t, ts)
	ctx = cidpkg.WithCID(ctx, cidpkg.New())

	info, err := c.Upload(ctx, "", bytes.NewReader(opusFile()))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := c.Seek(ctx, info.ID, testSerial, 3000, 1); err != nil {
		t.Fatalf("seek: %v", err)
	}

	// the pre-roll packet comes first, then the packet holding 3000
	sub, err := c.Subscribe(ctx, info.ID, testSerial, 2)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.CID() != cidpkg.CIDFromContext(ctx) {
		t.Fatalf("expected the context CID to be used")
	}
	packets := readAll(t, ctx, sub)
	sub.Close()
	if len(packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(packets))
	}
	if pos := packets[1].Info.GranulePosition; pos == nil || *pos != 3360 {
		t.Fatalf("expected second packet to end at 3360, got %v", pos)
	}
	if !bytes.Equal(packets[0].Data, frame20) {
		t.Fatalf("expected the pre-roll packet to be the last 20 ms frame")
	}

	// the cursor stays where the limited stream stopped
	sub, err = c.Subscribe(ctx, info.ID, testSerial, 0)
	if err != nil {
		t.Fatalf("subscribe again: %v", err)
	}
	defer sub.Close()
	rest := readAll(t, ctx, sub)
	if len(rest) != 1 || !rest[0].Info.EndOfStream {
		t.Fatalf("expected only the final packet, got %d", len(rest))
	}
}

func TestSubscribeErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	c, ctx := newClient(t, ts)

	if _, err := c.Subscribe(ctx, "00000000-0000-4000-8000-000000000000", testSerial, 0); !client.IsNotFound(err) {
		t.Fatalf("expected a 404 for an unknown session, got %v", err)
	}

	info, err := c.Upload(ctx, "", bytes.NewReader(opusFile()))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	sub, err := c.Subscribe(ctx, info.ID, testSerial, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	_, err = c.Subscribe(ctx, info.ID, testSerial, 0)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected 409 while another subscriber holds the session, got %v", err)
	}
}

func TestDeleteSessionEndsStream(t *testing.T) {
	ts := newTestServer(t, nil)
	c, ctx := newClient(t, ts)

	info, err := c.Upload(ctx, "", bytes.NewReader(opusFile()))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := c.CloseSession(ctx, info.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Streams(ctx, info.ID); !client.IsNotFound(err) {
		t.Fatalf("expected 404 after close, got %v", err)
	}
	sessions, err := c.Sessions(ctx)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %v %v", sessions, err)
	}
}
