package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/ratelimit"
)

// ConnectLimiter throttles connection attempts on the transport
// endpoints. Denial is throttling only; repeated denial is a metrics
// signal, never a ban.
type ConnectLimiter struct {
	limiter      *ratelimit.ConnectLimiter
	collector    *metrics.Collector
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewConnectLimiter creates the connection-attempt limiting middleware.
func NewConnectLimiter(limiter *ratelimit.ConnectLimiter, collector *metrics.Collector, whitelist []string, logger zerolog.Logger) *ConnectLimiter {
	cl := &ConnectLimiter{
		limiter:      limiter,
		collector:    collector,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
	}

	// Parse whitelist entries
	for _, entry := range whitelist {
		if strings.Contains(entry, "/") {
			// CIDR notation
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			cl.whitelist = append(cl.whitelist, ipNet)
		} else {
			// Single IP
			cl.whitelistIPs[entry] = true
		}
	}

	if len(whitelist) > 0 {
		logger.Info().
			Int("ips", len(cl.whitelistIPs)).
			Int("cidrs", len(cl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return cl
}

// isWhitelisted checks if an IP is in the whitelist.
func (cl *ConnectLimiter) isWhitelisted(ipStr string) bool {
	if cl.whitelistIPs[ipStr] {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range cl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the connection-attempt limiting middleware.
func (cl *ConnectLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		if cl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := cl.limiter.Allow(r.Context(), ip)

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			cl.collector.RecordError("rate_limit")
			cl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("connection attempt limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
