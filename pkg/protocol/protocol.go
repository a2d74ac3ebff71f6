package protocol

import "oggstream/internal/types"

// Error codes shared between client and server
const (
	CodeInvalidRequest   = "invalid_request"
	CodeSessionNotFound  = "session_not_found"
	CodeStreamNotFound   = "stream_not_found"
	CodeSessionBusy      = "session_busy"
	CodeNotSeekable      = "not_seekable"
	CodeNotFound         = "not_found"
	CodeInvalidData      = "invalid_data"
	CodePayloadTooLarge  = "payload_too_large"
	CodeInternal         = "internal"
	CodePathNotPermitted = "path_not_permitted"
)

// WebSocket event types. Every "packet" event is followed by one binary
// message carrying exactly Packet.Length payload bytes.
const (
	EventHello  = "hello"
	EventPacket = "packet"
	EventEOS    = "eos"
	EventError  = "error"
)

// Event is the JSON text message of the packet stream.
type Event struct {
	Type    string            `json:"type"`
	Serial  uint32            `json:"serial"`
	Seq     int               `json:"seq,omitempty"`
	Packet  *types.PacketInfo `json:"packet,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
}
