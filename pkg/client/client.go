package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	cidpkg "oggstream/internal/cid"
	"oggstream/internal/types"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "oggstream-client/1.0.0"

// buildDialHeaders constructs the HTTP header map used for websocket.Dial.
// Extracted to allow unit testing of header propagation.
func buildDialHeaders(ctx context.Context, userAgent string) map[string][]string {
	headers := map[string][]string{"User-Agent": {userAgent}}
	cidpkg.AddHeaderFromContext(headers, ctx)
	return headers
}

// Config holds configuration for the API client
type Config struct {
	// ServerURL is the http(s) base URL of the server, e.g.
	// "http://localhost:8080".
	ServerURL  string
	UserAgent  string
	HTTPClient *http.Client
}

// APIError is a non-2xx response of the REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oggstream api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the session API of an oggstream server.
type Client struct {
	base      *url.URL
	userAgent string
	http      *http.Client
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", cfg.ServerURL)
	}
	c := &Client{base: base, userAgent: cfg.UserAgent, http: cfg.HTTPClient}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes a JSON response into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return err
	}
	for k, v := range buildDialHeaders(ctx, c.userAgent) {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e types.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Upload creates a session over the Ogg data read from r.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (types.SessionInfo, error) {
	var info types.SessionInfo
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	err := c.do(ctx, http.MethodPost, "/api/sessions", q, "application/ogg", r, &info)
	return info, err
}

// Open creates a session over a file below the server's media root.
func (c *Client) Open(ctx context.Context, path string) (types.SessionInfo, error) {
	var info types.SessionInfo
	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return info, err
	}
	err = c.do(ctx, http.MethodPost, "/api/sessions", nil, "application/json", bytes.NewReader(body), &info)
	return info, err
}

func (c *Client) Sessions(ctx context.Context) ([]types.SessionInfo, error) {
	var out struct {
		Sessions []types.SessionInfo `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, "", nil, &out)
	return out.Sessions, err
}

// CloseSession deletes a session on the server.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, "", nil, nil)
}

// Streams lists the logical streams of a session.
func (c *Client) Streams(ctx context.Context, sessionID string) ([]types.StreamInfo, error) {
	var out struct {
		Streams []types.StreamInfo `json:"streams"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/streams", nil, "", nil, &out)
	return out.Streams, err
}

// Seek positions the stream cursor preRoll packets before the packet
// holding granule.
func (c *Client) Seek(ctx context.Context, sessionID string, serial uint32, granule int64, preRoll int) (types.SeekResult, error) {
	var res types.SeekResult
	q := url.Values{}
	q.Set("granule", strconv.FormatInt(granule, 10))
	q.Set("preroll", strconv.Itoa(preRoll))
	err := c.do(ctx, http.MethodGet, streamPath(sessionID, serial)+"/seek", q, "", nil, &res)
	return res, err
}

func streamPath(sessionID string, serial uint32) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/streams/" + strconv.FormatUint(uint64(serial), 10)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}
