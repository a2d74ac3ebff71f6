package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"oggstream/internal/oggdemux"
	"oggstream/internal/opus"
	"oggstream/internal/packet"
	"oggstream/internal/state"
	"oggstream/internal/types"
	"oggstream/pkg/protocol"
)

var errUnsupportedCodec = errors.New("granule seeking is only supported for opus streams")

// classify maps an error to an HTTP status and protocol error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, state.ErrSessionNotFound):
		return http.StatusNotFound, protocol.CodeSessionNotFound
	case errors.Is(err, oggdemux.ErrUnknownStream):
		return http.StatusNotFound, protocol.CodeStreamNotFound
	case errors.Is(err, state.ErrSessionBusy):
		return http.StatusConflict, protocol.CodeSessionBusy
	case errors.Is(err, packet.ErrNotSeekable):
		return http.StatusBadRequest, protocol.CodeNotSeekable
	case errors.Is(err, errUnsupportedCodec):
		return http.StatusBadRequest, protocol.CodeInvalidRequest

	case errors.Is(err, packet.ErrOutOfRange),
		errors.Is(err, packet.ErrNegativeGranule),
		errors.Is(err, packet.ErrInvalidPreRoll),
		errors.Is(err, packet.ErrNilPacket),
		errors.Is(err, packet.ErrNilCounter),
		errors.Is(err, packet.ErrForeignPacket),
		errors.Is(err, packet.ErrClosed):
		return http.StatusBadRequest, protocol.CodeInvalidRequest

	case errors.Is(err, packet.ErrPacketNotFound),
		errors.Is(err, packet.ErrGranuleNotFound),
		errors.Is(err, packet.ErrPreRollOutOfRange):
		return http.StatusNotFound, protocol.CodeNotFound

	case errors.Is(err, packet.ErrInvalidData),
		errors.Is(err, packet.ErrIncompletePacket),
		errors.Is(err, packet.ErrFirstPacketMismatch),
		errors.Is(err, oggdemux.ErrSyncLost),
		errors.Is(err, opus.ErrInvalidPacket),
		errors.Is(err, opus.ErrEmptyPacket):
		return http.StatusUnprocessableEntity, protocol.CodeInvalidData
	}
	return http.StatusInternalServerError, protocol.CodeInternal
}

// abortWithError writes the error response. 5xx causes are logged but not
// echoed to the client.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log(c.Request.Context()).Error("request failed", "path", c.Request.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, types.ErrorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{Error: msg, Code: protocol.CodeInvalidRequest})
}
