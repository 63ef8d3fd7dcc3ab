package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/chatedu-go/internal/logging"
)

// Defaults for the two limiter tiers. The api tier covers every protected
// route; the generation tier additionally guards routes that call the chat
// model (chat, flashcards, mind maps).
const (
	defaultRateLimit       = 10
	defaultRateBurst       = 20
	defaultGenerationLimit = 1
	defaultGenerationBurst = 5
)

const (
	tierAPI        = "api"
	tierGeneration = "generation"
)

// idleClientTTL is how long a client bucket survives without traffic.
const idleClientTTL = 5 * time.Minute

// clientBucket is one client's token bucket.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket for one tier. Idle buckets
// are swept lazily on access, at most once per sweepEvery.
type rateLimiter struct {
	tier     string
	rps      rate.Limit
	burst    int
	rejected prometheus.Counter

	mu         sync.Mutex
	clients    map[string]*clientBucket
	lastSweep  time.Time
	sweepEvery time.Duration
	now        func() time.Time
}

// newRateLimiter builds a limiter for tier. rejected may be nil.
func newRateLimiter(tier string, rps float64, burst int, rejected prometheus.Counter) *rateLimiter {
	return &rateLimiter{
		tier:       tier,
		rps:        rate.Limit(rps),
		burst:      burst,
		rejected:   rejected,
		clients:    make(map[string]*clientBucket),
		sweepEvery: time.Minute,
		now:        time.Now,
	}
}

// bucket returns the limiter for client, creating it on first use.
func (rl *rateLimiter) bucket(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.sweepEvery {
		for key, b := range rl.clients {
			if now.Sub(b.lastSeen) > idleClientTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter
}

// size reports the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// middleware rejects requests over the client's budget with 429 and a
// Retry-After derived from the bucket's refill time.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		res := rl.bucket(client).ReserveN(rl.now(), 1)
		delay := res.DelayFrom(rl.now())
		if !res.OK() || delay > 0 {
			res.Cancel()
			if rl.rejected != nil {
				rl.rejected.Inc()
			}
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("tier", rl.tier),
				slog.String("ip", client),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", retryAfter(delay))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", logging.FromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfter renders d as whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 || d == rate.InfDuration {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
