package main

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"oggstream/internal/inspect"
	"oggstream/internal/packet"
	"oggstream/pkg/protocol"
)

var errLimitReached = errors.New("packet limit reached")

// handleStreamWebSocket sends every packet from the stream cursor on: a
// JSON "packet" event, then the payload as one binary message. The stream
// ends with an "eos" event. ?limit=N stops after N packets and leaves the
// cursor behind the last one sent.
func (s *Server) handleStreamWebSocket(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sess, r, release, ok := s.acquireStream(c)
	if !ok {
		return
	}
	defer release()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log(c.Request.Context()).Warn("failed to upgrade connection", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseContext(), cancel)
	defer stop()
	// nothing is expected from the client; this only services control frames
	ctx = conn.CloseRead(ctx)

	logger := s.log(ctx).With("session", sess.ID, "serial", r.Serial())
	logger.Info("packet stream started")

	if err := wsjson.Write(ctx, conn, protocol.Event{Type: protocol.EventHello, Serial: r.Serial()}); err != nil {
		logger.Debug("hello failed", "error", err)
		return
	}

	sent, err := s.streamPackets(ctx, conn, r, limit)
	// a client may resubscribe as soon as it sees the close frame
	release()
	switch {
	case err == nil:
		logger.Info("packet stream finished", "packets", sent)
		conn.Close(websocket.StatusNormalClosure, "end of stream")
	case errors.Is(err, errLimitReached):
		logger.Info("packet stream limit reached", "packets", sent)
		conn.Close(websocket.StatusNormalClosure, "limit reached")
	case ctx.Err() != nil:
		logger.Info("packet stream cancelled", "packets", sent)
		conn.Close(websocket.StatusGoingAway, "")
	default:
		logger.Warn("packet stream failed", "packets", sent, "error", err)
		_, code := classify(err)
		_ = wsjson.Write(ctx, conn, protocol.Event{
			Type:    protocol.EventError,
			Serial:  r.Serial(),
			Code:    code,
			Message: err.Error(),
		})
		conn.Close(websocket.StatusInternalError, code)
	}
}

// streamPackets writes packets until the end of the stream, the limit or a
// failure. Each packet is released with Done once sent.
func (s *Server) streamPackets(ctx context.Context, conn *websocket.Conn, r *packet.Reader, limit int) (int, error) {
	for seq := 0; ; seq++ {
		if limit > 0 && seq == limit {
			return seq, errLimitReached
		}
		if err := ctx.Err(); err != nil {
			return seq, err
		}

		p, err := r.GetNextPacket()
		if errors.Is(err, io.EOF) {
			return seq, wsjson.Write(ctx, conn, protocol.Event{Type: protocol.EventEOS, Serial: r.Serial()})
		}
		if err != nil {
			return seq, err
		}

		data, err := p.Bytes()
		if err != nil {
			return seq, err
		}
		info := inspect.PacketInfo(p)
		if err := wsjson.Write(ctx, conn, protocol.Event{
			Type:   protocol.EventPacket,
			Serial: r.Serial(),
			Seq:    seq,
			Packet: &info,
		}); err != nil {
			return seq, err
		}
		if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
			return seq, err
		}
		p.Done()
		if s.metrics != nil {
			s.metrics.RecordPacketStreamed()
		}
	}
}
