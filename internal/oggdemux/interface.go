package oggdemux

// Observer receives container-level events. internal/metrics implements it
// with Prometheus collectors; tests can record calls.
type Observer interface {
	// PageRead is called for every page parsed, including pages of
	// released streams.
	PageRead(serial uint32, size int)
	// Resync reports bytes skipped while hunting for the next page.
	Resync(skipped int64)
	// Discarded reports bytes released from the read window.
	Discarded(n int64)
	// StreamFound is called once per new logical stream.
	StreamFound(serial uint32)
}

type nopObserver struct{}

func (nopObserver) PageRead(uint32, int) {}
func (nopObserver) Resync(int64)         {}
func (nopObserver) Discarded(int64)      {}
func (nopObserver) StreamFound(uint32)   {}
