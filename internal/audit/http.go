package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientKey struct{}

type client struct {
	ip        string
	userAgent string
}

// Middleware records the caller's address and user agent so entries logged
// further down the request inherit them.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequest(r.Context(), r)))
	})
}

// WithRequest stores client details from r in ctx.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	if r == nil {
		return ctx
	}
	return context.WithValue(ctx, clientKey{}, client{ip: ClientIP(r), userAgent: r.UserAgent()})
}

func fromContext(ctx context.Context, entry Entry) Entry {
	if ctx == nil {
		return entry
	}
	c, ok := ctx.Value(clientKey{}).(client)
	if !ok {
		return entry
	}
	if entry.IP == "" {
		entry.IP = c.ip
	}
	if entry.UserAgent == "" {
		entry.UserAgent = c.userAgent
	}
	return entry
}

// ClientIP extracts client ip from proxy headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
