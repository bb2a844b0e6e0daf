package chatapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	loginRatePerMinute = 10
	loginBurst         = 5
	limiterMaxEntries  = 10000
	limiterIdleEvict   = 15 * time.Minute
)

// loginLimiter throttles login attempts per client IP so credential
// stuffing cannot run at line rate. State is in-memory per process.
type loginLimiter struct {
	mu      sync.Mutex
	perIP   map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	nowFunc func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		perIP:   make(map[string]*limiterEntry),
		limit:   rate.Limit(float64(loginRatePerMinute) / 60.0),
		burst:   loginBurst,
		nowFunc: time.Now,
	}
}

func (l *loginLimiter) allow(remoteAddr string) bool {
	ip := hostOnly(remoteAddr)
	if ip == "" {
		return true
	}

	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.perIP[ip]
	if !ok {
		if len(l.perIP) >= limiterMaxEntries {
			l.pruneLocked(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.perIP[ip] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// pruneLocked drops idle entries; caller holds l.mu.
func (l *loginLimiter) pruneLocked(now time.Time) {
	for ip, e := range l.perIP {
		if now.Sub(e.lastSeen) > limiterIdleEvict {
			delete(l.perIP, ip)
		}
	}
}

func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "Too many attempts, try again later")
}
