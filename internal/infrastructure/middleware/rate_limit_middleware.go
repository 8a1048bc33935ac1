package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"duetrec/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
// Entries idle for idleTTL are swept at most once per idleTTL.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burstSize int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiterStore(r rate.Limit, burst int, idleTTL time.Duration) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*limiterEntry),
		rate:      r,
		burstSize: burst,
		idleTTL:   idleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.idleTTL > 0 && now.Sub(s.lastSweep) >= s.idleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) >= s.idleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *rateLimiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// proxyList holds the networks allowed to set X-Forwarded-For.
type proxyList []*net.IPNet

// parseProxies accepts IPs and CIDRs; entries that are neither are skipped
// since config validation already rejects them.
func parseProxies(entries []string) proxyList {
	var out proxyList
	for _, entry := range entries {
		if _, n, err := net.ParseCIDR(entry); err == nil {
			out = append(out, n)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if ip4 := ip.To4(); ip4 != nil {
			ip, bits = ip4, 32
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out
}

func (p proxyList) contains(ip net.IP) bool {
	for _, n := range p {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address, or when the peer is a trusted proxy the
// right-most X-Forwarded-For hop that is not itself a trusted proxy.
func clientIP(r *http.Request, trusted proxyList) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peer := net.ParseIP(host)
	if peer == nil || !trusted.contains(peer) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			break
		}
		if !trusted.contains(ip) {
			return ip.String()
		}
	}
	return host
}

func passThrough(c *gin.Context) { c.Next() }

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	burst := cfg.RateLimiting.HTTP.Burst

	store := newRateLimiterStore(rate.Limit(rps), burst, cfg.RateLimiting.IdleTTL)
	trusted := parseProxies(cfg.RateLimiting.TrustedProxies)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		// Global concurrent requests throttling
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		ip := clientIP(c.Request, trusted)
		limiter := store.getLimiter(ip)
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}

// NewWebSocketLimitMiddleware guards the notice and device-offer upgrade
// routes: a per-IP connection rate plus a cap on concurrently open sockets.
// The concurrency slot is held until the handler returns, which for a
// websocket is when the connection closes.
func NewWebSocketLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	perMinute := cfg.RateLimiting.WebSocket.ConnectionsPerMinute
	store := newRateLimiterStore(rate.Every(time.Minute/time.Duration(perMinute)), perMinute, cfg.RateLimiting.IdleTTL)
	trusted := parseProxies(cfg.RateLimiting.TrustedProxies)

	var open chan struct{}
	if cfg.RateLimiting.WebSocket.MaxConcurrent > 0 {
		open = make(chan struct{}, cfg.RateLimiting.WebSocket.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if !store.getLimiter(clientIP(c.Request, trusted)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "connection rate exceeded",
			})
			return
		}
		if open != nil {
			select {
			case open <- struct{}{}:
				defer func() { <-open }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many open connections",
				})
				return
			}
		}
		c.Next()
	}
}
