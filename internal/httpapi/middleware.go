package httpapi

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sitekeeper.io/internal/audit"
	"sitekeeper.io/internal/ids"
	"sitekeeper.io/internal/obs"
)

const (
	requestIDHeader = "X-Request-ID"
	maxHeaderValue  = 128
	maxUserAgent    = 512
)

// RequestID propagates or assigns X-Request-ID and stores it on the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" || len(rid) > maxHeaderValue {
			rid = ids.RequestID()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(audit.WithRequestID(r.Context(), rid)))
	})
}

// LoggingJSON writes one structured entry per request.
func LoggingJSON(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := obs.NewStatusWriter(w)
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.Info("request",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
	})
}

// SecurityHeaders applies hardening headers. Admin responses are never cached.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		if isProtectedPath(r.URL.Path) || isExemptPath(r.URL.Path) {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes: limit request body size
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

type bucketSet struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
	burst     int
	perSecond int
}

const bucketTTL = 5 * time.Minute

func (s *bucketSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastPrune) > time.Minute {
		for k, b := range s.buckets {
			if now.Sub(b.seen) > bucketTTL {
				delete(s.buckets, k)
			}
		}
		s.lastPrune = now
	}
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(s.perSecond), s.burst)}
		s.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// RateLimit is a coarse token bucket per client IP in front of every route.
// Login lockout is handled separately by the login flow.
func RateLimit(next http.Handler, burst, perSecond int, trustProxy bool) http.Handler {
	set := &bucketSet{
		buckets:   make(map[string]*bucket),
		lastPrune: time.Now(),
		burst:     burst,
		perSecond: perSecond,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, trustProxy)
		if ip == "" {
			ip = "unknown"
		}
		if !set.allow(ip, time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the peer address, or the rightmost X-Forwarded-For hop
// when the service runs behind one trusted proxy. Hops to the left of it
// are client-supplied and never used as a key.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if hops := r.Header.Values("X-Forwarded-For"); len(hops) > 0 {
			last := hops[len(hops)-1]
			if i := strings.LastIndexByte(last, ','); i >= 0 {
				last = last[i+1:]
			}
			if ip := net.ParseIP(strings.TrimSpace(last)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// geoFromHeaders reads the coarse location hints set by Cloudflare or Vercel.
func geoFromHeaders(h http.Header) *audit.Geo {
	country := h.Get("CF-IPCountry")
	if country == "" {
		country = h.Get("X-Vercel-IP-Country")
	}
	city := h.Get("X-Vercel-IP-City")
	if decoded, err := url.QueryUnescape(city); err == nil {
		city = decoded
	}
	g := audit.Geo{
		Country: truncate(strings.TrimSpace(country), maxHeaderValue),
		Region:  truncate(strings.TrimSpace(h.Get("X-Vercel-IP-Country-Region")), maxHeaderValue),
		City:    truncate(strings.TrimSpace(city), maxHeaderValue),
	}
	if g.Empty() {
		return nil
	}
	return &g
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

// requestEvent seeds an audit event with the request's origin fields.
func (a *API) requestEvent(r *http.Request, action audit.Action, result audit.Result) audit.Event {
	return audit.Event{
		Action:    action,
		Result:    result,
		RequestID: audit.RequestIDFromContext(r.Context()),
		IPAddress: clientIP(r, a.opts.TrustProxy),
		UserAgent: truncate(r.UserAgent(), maxUserAgent),
		Geo:       geoFromHeaders(r.Header),
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
