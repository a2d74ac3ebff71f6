package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	cidpkg "oggstream/internal/cid"
	"oggstream/internal/inspect"
	"oggstream/internal/metrics"
	"oggstream/internal/oggdemux"
	"oggstream/internal/opus"
	"oggstream/internal/packet"
	"oggstream/internal/state"
	"oggstream/internal/types"
	"oggstream/pkg/protocol"
)

var (
	errPathsDisabled    = errors.New("path sessions are disabled: server.media_root is not set")
	errPathNotPermitted = errors.New("path must be relative and stay inside the media root")
	errNoPages          = errors.New("input holds no Ogg page")
)

type createSessionRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// handleCreateSession opens a demuxer over the request body, or over a file
// under the media root when the body is JSON.
func (s *Server) handleCreateSession(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Query("name")

	var src io.Reader
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body: "+err.Error())
			return
		}
		f, err := s.openMedia(req.Path)
		if err != nil {
			s.abortOpenError(c, err)
			return
		}
		src = f
		if name == "" {
			name = req.Name
		}
		if name == "" {
			name = req.Path
		}
	} else {
		body := http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadBytes)
		data, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, types.ErrorResponse{
					Error: err.Error(), Code: protocol.CodePayloadTooLarge,
				})
				return
			}
			badRequest(c, "failed to read body: "+err.Error())
			return
		}
		src = bytes.NewReader(data)
		if name == "" {
			name = "upload"
		}
	}

	d := oggdemux.New(s.baseContext(), src, s.demuxOptions(ctx)...)
	ok, err := d.Init()
	if err == nil && !ok {
		err = errNoPages
	}
	if err != nil {
		_ = d.Close()
		if errors.Is(err, errNoPages) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, types.ErrorResponse{
				Error: err.Error(), Code: protocol.CodeInvalidData,
			})
			return
		}
		s.abortWithError(c, err)
		return
	}

	sess, err := s.stateManager.Create(name, cidpkg.CIDFromContext(ctx), d)
	if err != nil {
		_ = d.Close()
		if errors.Is(err, state.ErrShutdown) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, types.ErrorResponse{Error: err.Error()})
			return
		}
		s.abortWithError(c, err)
		return
	}

	s.log(ctx).Info("session created",
		"session", sess.ID,
		"name", sess.Name,
		"streams", len(d.Streams()),
	)
	c.JSON(http.StatusCreated, sess.Info())
}

func (s *Server) abortOpenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errPathsDisabled), errors.Is(err, errPathNotPermitted):
		c.AbortWithStatusJSON(http.StatusForbidden, types.ErrorResponse{
			Error: err.Error(), Code: protocol.CodePathNotPermitted,
		})
	case errors.Is(err, os.ErrNotExist):
		c.AbortWithStatusJSON(http.StatusNotFound, types.ErrorResponse{
			Error: "media file not found", Code: protocol.CodeNotFound,
		})
	default:
		s.abortWithError(c, err)
	}
}

// openMedia opens rel below the media root. Symlinks may not leave the
// root either.
func (s *Server) openMedia(rel string) (*os.File, error) {
	root := s.cfg.Server.MediaRoot
	if root == "" {
		return nil, errPathsDisabled
	}
	rel = filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(rel) {
		return nil, errPathNotPermitted
	}
	f, err := os.OpenInRoot(root, rel)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Join(errPathNotPermitted, err)
	}
	return f, err
}

func (s *Server) baseContext() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Server) demuxOptions(ctx context.Context) []oggdemux.Option {
	opts := s.cfg.Demux.DemuxOptions(s.log(ctx))
	opts = append(opts, oggdemux.WithReaderOptions(packet.WithContext(s.baseContext())))
	if s.metrics != nil {
		opts = append(opts, oggdemux.WithObserver(s.metrics))
	}
	return opts
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.stateManager.All()
	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.stateManager.Get(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.stateManager.Remove(id); err != nil {
		s.abortWithError(c, err)
		return
	}
	s.log(c.Request.Context()).Info("session closed", "session", id)
	c.Status(http.StatusNoContent)
}

// handleListStreams reads a seekable input to its end so every logical
// stream and its totals are known.
func (s *Server) handleListStreams(c *gin.Context) {
	sess, err := s.stateManager.Get(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	release, err := sess.Acquire()
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	defer release()

	d := sess.Demuxer
	if d.CanSeek() {
		if _, err := d.TotalPageCount(); err != nil {
			s.abortWithError(c, err)
			return
		}
	}

	infos := make([]types.StreamInfo, 0)
	for _, serial := range d.Streams() {
		r, err := d.Stream(serial)
		if err != nil {
			// released while we were listing
			continue
		}
		info, err := inspect.Describe(r)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		infos = append(infos, info)
	}
	c.JSON(http.StatusOK, gin.H{"streams": infos})
}

// acquireStream resolves :id and :serial and claims the session. On false
// the response has been written.
func (s *Server) acquireStream(c *gin.Context) (*state.Session, *packet.Reader, func(), bool) {
	sess, err := s.stateManager.Get(c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return nil, nil, nil, false
	}
	serial, err := strconv.ParseUint(c.Param("serial"), 10, 32)
	if err != nil {
		badRequest(c, "serial must be an unsigned 32-bit integer")
		return nil, nil, nil, false
	}
	release, err := sess.Acquire()
	if err != nil {
		s.abortWithError(c, err)
		return nil, nil, nil, false
	}

	r, err := sess.Demuxer.Stream(uint32(serial))
	if errors.Is(err, oggdemux.ErrUnknownStream) && sess.Demuxer.CanSeek() {
		// the stream may start further into the file
		if _, err = sess.Demuxer.TotalPageCount(); err == nil {
			r, err = sess.Demuxer.Stream(uint32(serial))
		}
	}
	if err != nil {
		release()
		s.abortWithError(c, err)
		return nil, nil, nil, false
	}
	return sess, r, release, true
}

// handleSeek moves the stream cursor to the packet holding the granule,
// backed off by preroll packets.
func (s *Server) handleSeek(c *gin.Context) {
	granule, err := strconv.ParseInt(c.Query("granule"), 10, 64)
	if err != nil {
		badRequest(c, "granule must be an integer")
		return
	}
	preRoll := 0
	if v := c.Query("preroll"); v != "" {
		if preRoll, err = strconv.Atoi(v); err != nil {
			badRequest(c, "preroll must be an integer")
			return
		}
	}

	sess, r, release, ok := s.acquireStream(c)
	if !ok {
		return
	}
	defer release()

	codec, _, err := inspect.DetectCodec(r)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if codec != types.CodecOpus {
		s.abortWithError(c, errUnsupportedCodec)
		return
	}
	// no packet ends at granule 0
	if granule == 0 {
		granule = 1
	}

	start := time.Now()
	p, err := r.FindPacket(granule, opus.Counter())
	if err == nil {
		err = r.SeekToPacket(p, preRoll)
	}
	s.recordSeek(err, time.Since(start))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	s.log(c.Request.Context()).Debug("seek",
		"session", sess.ID,
		"serial", r.Serial(),
		"granule", granule,
		"preroll", preRoll,
	)
	c.JSON(http.StatusOK, types.SeekResult{
		Serial:  r.Serial(),
		Granule: granule,
		PreRoll: preRoll,
		Packet:  inspect.PacketInfo(p),
	})
}

func (s *Server) recordSeek(err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.SeekFound
	if err != nil {
		outcome = metrics.SeekError
		if status, _ := classify(err); status == http.StatusNotFound {
			outcome = metrics.SeekNotFound
		}
	}
	s.metrics.RecordSeek(outcome, d.Seconds())
}
