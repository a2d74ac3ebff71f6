package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserverCounters(t *testing.T) {
	m := New(nil)
	m.PageRead(7, 100)
	m.PageRead(8, 50)
	m.Resync(12)
	m.Discarded(300)
	m.StreamFound(7)

	if got := testutil.ToFloat64(m.PagesRead); got != 2 {
		t.Fatalf("expected 2 pages, got %v", got)
	}
	if got := testutil.ToFloat64(m.PageBytes); got != 150 {
		t.Fatalf("expected 150 page bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.ResyncBytes); got != 12 {
		t.Fatalf("expected 12 resync bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.DiscardedBytes); got != 300 {
		t.Fatalf("expected 300 discarded bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.StreamsFound); got != 1 {
		t.Fatalf("expected 1 stream, got %v", got)
	}
}

func TestSeekAndSessions(t *testing.T) {
	m := New(nil)
	m.RecordSeek(SeekFound, 0.001)
	m.RecordSeek(SeekFound, 0.002)
	m.RecordSeek(SeekNotFound, 0.001)
	m.SetActiveSessions(3)

	if got := testutil.ToFloat64(m.Seeks.WithLabelValues(SeekFound)); got != 2 {
		t.Fatalf("expected 2 found seeks, got %v", got)
	}
	if got := testutil.ToFloat64(m.Seeks.WithLabelValues(SeekNotFound)); got != 1 {
		t.Fatalf("expected 1 not-found seek, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Fatalf("expected 3 sessions, got %v", got)
	}
}

func TestRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)

	n, err := testutil.GatherAndCount(reg, "oggstream_http_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one http series, got %d", n)
	}
}
