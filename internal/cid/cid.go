// Package cid carries correlation ids through contexts, HTTP headers, spans
// and log records.
package cid

import (
	"context"
	"log/slog"

	"github.com/segmentio/ksuid"
)

// ContextKey is the type used for storing CID in context to avoid collisions.
type ContextKey struct{}

// HeaderName is the HTTP header used to propagate the correlation id.
//
// Incoming requests that already carry it keep their id; the server
// middleware only generates one when the header is missing.
const HeaderName = "X-Oggstream-CID"

// AttributeName is the span and log attribute key for the CID.
const AttributeName = "oggstream.cid"

// New returns a fresh correlation id.
func New() string {
	return ksuid.New().String()
}

// Valid reports whether s looks like an id produced by New.
func Valid(s string) bool {
	_, err := ksuid.Parse(s)
	return err == nil
}

// WithCID returns a new context containing the provided correlation id.
func WithCID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ContextKey{}, cid)
}

// CIDFromContext extracts the correlation id from context, if present.
func CIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ContextKey{}).(string); ok {
		return v
	}
	return ""
}

// AddHeaderFromContext adds HeaderName to headers when ctx carries a CID.
func AddHeaderFromContext(headers map[string][]string, ctx context.Context) {
	if headers == nil {
		return
	}
	if cid := CIDFromContext(ctx); cid != "" {
		headers[HeaderName] = []string{cid}
	}
}

// LogAttr is the CID of ctx as a log attribute.
func LogAttr(ctx context.Context) slog.Attr {
	return slog.String(AttributeName, CIDFromContext(ctx))
}
