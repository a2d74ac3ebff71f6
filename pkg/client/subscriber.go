package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/coder/websocket"

	cidpkg "oggstream/internal/cid"
	"oggstream/internal/types"
	"oggstream/pkg/protocol"
)

// maxPacketBytes bounds one binary message. Ogg does not limit packet
// size, but nothing this service streams comes close.
const maxPacketBytes = 16 << 20

// Packet is one packet received from the stream endpoint.
type Packet struct {
	Serial uint32
	Seq    int
	Info   types.PacketInfo
	Data   []byte
}

// ServerError is an "error" event sent before the server closes the stream.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error [%s]: %s", e.Code, e.Message)
}

// Subscriber reads the packet stream of one logical stream.
type Subscriber struct {
	conn   *websocket.Conn
	cid    string
	serial uint32
	done   bool
}

// Subscribe opens the WebSocket packet stream. limit > 0 asks the server
// to stop after that many packets. A CID is generated when ctx has none.
func (c *Client) Subscribe(ctx context.Context, sessionID string, serial uint32, limit int) (*Subscriber, error) {
	id := cidpkg.CIDFromContext(ctx)
	if id == "" {
		id = cidpkg.New()
		ctx = cidpkg.WithCID(ctx, id)
	}

	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u, err := url.Parse(c.endpoint(streamPath(sessionID, serial)+"/ws", q))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: c.http,
		HTTPHeader: buildDialHeaders(ctx, c.userAgent),
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	conn.SetReadLimit(maxPacketBytes)

	s := &Subscriber{conn: conn, cid: id, serial: serial}
	ev, err := s.readEvent(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if ev.Type != protocol.EventHello {
		conn.CloseNow()
		return nil, fmt.Errorf("expected %q event, got %q", protocol.EventHello, ev.Type)
	}
	return s, nil
}

// CID is the correlation id sent with the subscription.
func (s *Subscriber) CID() string { return s.cid }

func (s *Subscriber) readEvent(ctx context.Context) (protocol.Event, error) {
	var ev protocol.Event
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return ev, fmt.Errorf("read error: %w", err)
	}
	if typ != websocket.MessageText {
		return ev, fmt.Errorf("expected a text event, got %d payload bytes", len(data))
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}

// Next returns the next packet. It returns io.EOF after the "eos" event,
// and also when the server closed normally because the limit was reached.
func (s *Subscriber) Next(ctx context.Context) (*Packet, error) {
	if s.done {
		return nil, io.EOF
	}
	ev, err := s.readEvent(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.done = true
			return nil, io.EOF
		}
		return nil, err
	}

	switch ev.Type {
	case protocol.EventEOS:
		s.done = true
		return nil, io.EOF
	case protocol.EventError:
		s.done = true
		return nil, &ServerError{Code: ev.Code, Message: ev.Message}
	case protocol.EventPacket:
	default:
		return nil, fmt.Errorf("unexpected event %q", ev.Type)
	}
	if ev.Packet == nil {
		return nil, fmt.Errorf("packet event %d without metadata", ev.Seq)
	}

	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("expected binary payload for packet %d", ev.Seq)
	}
	if len(data) != ev.Packet.Length {
		return nil, fmt.Errorf("packet %d: got %d payload bytes, want %d", ev.Seq, len(data), ev.Packet.Length)
	}
	return &Packet{Serial: ev.Serial, Seq: ev.Seq, Info: *ev.Packet, Data: data}, nil
}

// Close closes the connection.
func (s *Subscriber) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}
