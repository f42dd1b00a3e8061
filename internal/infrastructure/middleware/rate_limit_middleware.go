package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"connectrtc/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a caller's bucket survives without requests.
const limiterIdleTTL = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callerLimiters hands out one token bucket per admin caller.
type callerLimiters struct {
	mu        sync.Mutex
	callers   map[string]*callerLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastPrune time.Time
}

func newCallerLimiters(limit rate.Limit, burst int) *callerLimiters {
	return &callerLimiters{
		callers: make(map[string]*callerLimiter),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// reserve takes a token for key and returns how long the caller must wait
// before it would have been allowed. Zero means the request may proceed.
func (l *callerLimiters) reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	c, ok := l.callers[key]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.callers[key] = c
	}
	c.lastSeen = now

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Duration(math.MaxInt64)
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	return delay
}

func (l *callerLimiters) prune(now time.Time) {
	if now.Sub(l.lastPrune) < limiterIdleTTL {
		return
	}
	l.lastPrune = now
	for key, c := range l.callers {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.callers, key)
		}
	}
}

func (l *callerLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// clientIP returns the first X-Forwarded-For hop, else the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// callerKey buckets authenticated operators by token subject so one operator
// behind several addresses shares a budget.
func callerKey(c *gin.Context) string {
	if subject := c.GetString(SubjectKey); subject != "" {
		return "sub:" + subject
	}
	return "ip:" + clientIP(c.Request)
}

// NewHTTPRateLimitMiddleware limits each admin caller to
// admin.rate_limit.requests_per_second and caps in-flight requests at
// admin.rate_limit.max_concurrent. Mount it after AdminAuthMiddleware.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Admin.RateLimit
	if !rl.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limiters := newCallerLimiters(rate.Limit(rl.RequestsPerSecond), rl.Burst)

	var inFlight chan struct{}
	if rl.MaxConcurrent > 0 {
		inFlight = make(chan struct{}, rl.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if wait := limiters.reserve(callerKey(c)); wait > 0 {
			seconds := 1
			if wait != time.Duration(math.MaxInt64) {
				if n := int(math.Ceil(wait.Seconds())); n > 1 {
					seconds = n
				}
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": (time.Duration(seconds) * time.Second).String(),
			})
			return
		}
		c.Next()
	}
}
