package main

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"oggstream/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSerial = 77

// oggPage builds one page whose packets each fit in a single segment.
func oggPage(serial uint32, flags byte, granule int64, seq uint32, packets ...[]byte) []byte {
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

func opusHead(channels int, preSkip uint16) []byte {
	b := append([]byte("OpusHead"), 1, byte(channels))
	b = binary.LittleEndian.AppendUint16(b, preSkip)
	b = binary.LittleEndian.AppendUint32(b, 48000)
	b = binary.LittleEndian.AppendUint16(b, 0)
	return append(b, 0)
}

var (
	frame20 = []byte{1 << 3, 0xAB} // SILK 20 ms
	frame10 = []byte{0 << 3, 0xCD} // SILK 10 ms
)

// opusFile is a stereo Ogg Opus stream of seven packets: two headers,
// three 960-sample packets ending at 2880 and two 480-sample packets
// ending at 3840.
func opusFile() []byte {
	var data []byte
	data = append(data, oggPage(testSerial, 0x02, 0, 0, opusHead(2, 0))...)
	data = append(data, oggPage(testSerial, 0, 0, 1, []byte("OpusTags\x00\x00\x00\x00"))...)
	data = append(data, oggPage(testSerial, 0, 2880, 2, frame20, frame20, frame20)...)
	data = append(data, oggPage(testSerial, 0x04, 3840, 3, frame10, frame10)...)
	return data
}

type testServer struct {
	*Server
	cancel context.CancelFunc
}

// newTestServer builds a server with a private registry and a silent
// logger. mutate may adjust the configuration first.
func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(ctx, cfg, logger, prometheus.NewRegistry())
	t.Cleanup(func() {
		cancel()
		s.stateManager.Shutdown()
	})
	return &testServer{Server: s, cancel: cancel}
}

// serve starts a real listener, needed for WebSocket tests.
func (ts *testServer) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(ts.Router())
	t.Cleanup(srv.Close)
	return srv
}
