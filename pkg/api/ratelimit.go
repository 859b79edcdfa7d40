package api

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorMaxAge = 10 * time.Minute

// IPRateLimiter provides per-IP rate limiting middleware.
type IPRateLimiter struct {
	visitors map[string]*visitorEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	retry    int // seconds until one request is available again
	stop     chan struct{}
	stopOnce sync.Once
}

// visitorEntry holds the rate limiter and last seen time for a visitor.
type visitorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter allowing
// requestsPerMinute requests, with bursts of the same size.
func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	rl := &IPRateLimiter{
		visitors: make(map[string]*visitorEntry, 256),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
		retry:    int(math.Ceil(60.0 / float64(requestsPerMinute))),
		stop:     make(chan struct{}),
	}

	// Start cleanup goroutine to remove stale entries.
	go rl.cleanupLoop()

	return rl
}

// Stop ends the cleanup goroutine.
func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// getLimiter returns the rate limiter for the given IP, creating one if necessary.
func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.visitors[ip]
	if !exists {
		entry = &visitorEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = entry
	}

	entry.lastSeen = time.Now()

	return entry.limiter
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware
// replaces RemoteAddr with a bare IP when a forwarding header is present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Middleware returns an HTTP middleware that enforces rate limiting per IP.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.getLimiter(clientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(l.retry))
			w.WriteHeader(http.StatusTooManyRequests)

			_ = json.NewEncoder(w).Encode(ErrorResponse{
				Error: "Request was throttled. Expected available in " + strconv.Itoa(l.retry) + " seconds.",
			})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanupLoop periodically removes stale IP entries.
func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(visitorMaxAge)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup(visitorMaxAge)
		}
	}
}

// cleanup removes entries that haven't been seen for longer than maxAge.
func (l *IPRateLimiter) cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)

	for ip, entry := range l.visitors {
		if entry.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}
