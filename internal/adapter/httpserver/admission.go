package httpserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/audiorelay/internal/platform/errors"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleExpiry      = 10 * time.Minute
)

// LimitReason describes why a WebSocket connection was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// admission caps concurrent WebSocket connections per instance and per client IP,
// and throttles how fast one IP may open new ones. A slot is held for the whole
// lifetime of the connection.
type admission struct {
	mu    sync.Mutex
	clock clockwork.Clock

	total    int64
	maxTotal int64

	perIP    map[string]int
	maxPerIP int

	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

func newAdmission(clock clockwork.Clock, maxTotal int64, maxPerIP int, connectionsPerSecond float64, burst int) *admission {
	return &admission{
		clock:     clock,
		maxTotal:  maxTotal,
		perIP:     make(map[string]int),
		maxPerIP:  maxPerIP,
		limiters:  make(map[string]*limiterEntry),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(limiterCleanupInterval),
	}
}

// acquire reserves a slot for ip. The rate check runs first so a refused
// connection attempt still spends a token.
func (a *admission) acquire(ip string) (bool, LimitReason) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if now.After(a.cleanupAt) {
		a.cleanup(now)
		a.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, ok := a.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(a.rate, a.burst)}
		a.limiters[ip] = entry
	}
	entry.lastSeen = now
	if !entry.limiter.AllowN(now, 1) {
		return false, LimitReasonRate
	}

	if a.total >= a.maxTotal {
		return false, LimitReasonGlobal
	}
	if a.perIP[ip] >= a.maxPerIP {
		return false, LimitReasonPerIP
	}

	a.total++
	a.perIP[ip]++
	return true, ""
}

func (a *admission) release(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if count := a.perIP[ip]; count > 0 {
		if count == 1 {
			delete(a.perIP, ip)
		} else {
			a.perIP[ip] = count - 1
		}
		a.total--
	}
}

// counts returns the instance-wide and per-IP connection counts.
func (a *admission) counts(ip string) (int64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, a.perIP[ip]
}

// cleanup must be called with mu held.
func (a *admission) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleExpiry)
	for ip, entry := range a.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(a.limiters, ip)
		}
	}
}

// admitConnection holds an admission slot while the wrapped WebSocket handler runs.
func (s *Server) admitConnection(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()

		ok, reason := s.admission.acquire(ip)
		if !ok {
			if s.wsMetrics != nil {
				s.wsMetrics.Rejected.WithLabelValues(string(reason)).Inc()
			}
			slog.WarnContext(c.Request().Context(), "WebSocket connection refused", "reason", reason, "client_ip", ip, "path", c.Path())

			if reason == LimitReasonRate {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many connection attempts")
			}
			return apperrors.UnavailableError("connection limit reached", nil).WithContext("reason", string(reason))
		}
		defer s.admission.release(ip)

		return next(c)
	}
}
