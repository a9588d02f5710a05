package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKeyClientIP struct{}
type contextKeyUserAgent struct{}

type config struct {
	trustForwarded bool
}

type Option func(*config)

// TrustForwardedHeaders reads the client address from X-Forwarded-For and
// X-Real-IP. Enable it only behind a proxy that overwrites those headers.
func TrustForwardedHeaders(trust bool) Option {
	return func(c *config) {
		c.trustForwarded = trust
	}
}

// ClientMetadata records the client address and User-Agent on the request
// context for audit details and rate limit keys.
func ClientMetadata(opts ...Option) func(http.Handler) http.Handler {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r.RemoteAddr)
			if cfg.trustForwarded {
				if fwd := forwardedIP(r.Header); fwd != "" {
					ip = fwd
				}
			}
			ctx := WithClientMetadata(r.Context(), ip, r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the address recorded by ClientMetadata, or "".
func GetClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(contextKeyClientIP{}).(string)
	return ip
}

func GetUserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(contextKeyUserAgent{}).(string)
	return ua
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, contextKeyClientIP{}, clientIP)
	return context.WithValue(ctx, contextKeyUserAgent{}, userAgent)
}

// forwardedIP takes the first hop of X-Forwarded-For, then X-Real-IP. Values
// that do not parse as an address are ignored.
func forwardedIP(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(h.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ""
}

func remoteIP(addr string) string {
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
