package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

func newUUID() string { return uuid.NewString() }

// ipLimiter throttles write requests per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*ipEntry)}
}

// allow permits a burst of 20 writes, refilling one every 3 seconds.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > time.Hour {
			delete(l.limiters, k)
		}
	}
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(rate.Every(3*time.Second), 20)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

func (s *Server) allowWrite(w http.ResponseWriter, r *http.Request) bool {
	ip := clientIP(r)
	if s.writes.allow(ip) {
		return true
	}
	s.logger.Warn("Write rate limit exceeded", "ip", ip)
	http.Error(w, "Too many requests", http.StatusTooManyRequests)
	return false
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For is set by Cloud Run
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
