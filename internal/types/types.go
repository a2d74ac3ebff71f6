package types

import "time"

// Codec names reported for logical streams.
const (
	CodecOpus    = "opus"
	CodecUnknown = "unknown"
)

// SessionInfo describes one open demux session.
type SessionInfo struct {
	ID         string    `json:"id"`
	CID        string    `json:"cid"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	Seekable   bool      `json:"seekable"`
	Streams    []uint32  `json:"streams"`
	PagesRead  int       `json:"pages_read"`
	WasteBytes int64     `json:"waste_bytes"`
}

// StreamInfo describes one logical stream of a session. Page and granule
// totals are only filled in for seekable sessions. OverheadBytes counts the
// page headers read for the stream so far.
type StreamInfo struct {
	Serial        uint32 `json:"serial"`
	Codec         string `json:"codec"`
	Channels      int    `json:"channels,omitempty"`
	PreSkip       int    `json:"pre_skip,omitempty"`
	Pages         int    `json:"pages,omitempty"`
	Granules      int64  `json:"granules,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
	OverheadBytes int64  `json:"overhead_bytes"`
	EndOfStream   bool   `json:"end_of_stream"`
}

// PacketInfo is the metadata of one packet. Payload bytes travel
// separately.
type PacketInfo struct {
	Offset              int64  `json:"offset"`
	Length              int    `json:"length"`
	GranulePosition     *int64 `json:"granule_position,omitempty"`
	GranuleCount        *int   `json:"granule_count,omitempty"`
	PageGranulePosition int64  `json:"page_granule_position"`
	PageSequenceNumber  uint32 `json:"page_sequence_number"`
	Resync              bool   `json:"resync,omitempty"`
	EndOfStream         bool   `json:"end_of_stream,omitempty"`
}

// SeekResult is returned by the seek endpoint. Packet is the one holding
// the target granule; the cursor sits PreRoll packets before it.
type SeekResult struct {
	Serial  uint32     `json:"serial"`
	Granule int64      `json:"granule"`
	PreRoll int        `json:"preroll"`
	Packet  PacketInfo `json:"packet"`
}

// ServerStats summarises the session registry.
type ServerStats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalSessions  int `json:"total_sessions"`
	BusySessions   int `json:"busy_sessions"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
