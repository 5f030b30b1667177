package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const unknownKey = "unknown"

// Config holds limiter tuning parameters.
type Config struct {
	Window      time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	DelayStep   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns a 15 minute window with lockout on the fifth failure.
func DefaultConfig() Config {
	return Config{
		Window:      15 * time.Minute,
		MaxAttempts: 5,
		BaseDelay:   400 * time.Millisecond,
		DelayStep:   250 * time.Millisecond,
		MaxDelay:    2500 * time.Millisecond,
	}
}

// FailureCounter reports persisted failed logins for a source inside a window.
type FailureCounter interface {
	CountRecentFailures(ctx context.Context, ip string, window time.Duration) (int, error)
}

// Decision is the outcome of Check. Err is set when the persisted count
// could not be read; the attempt must then be refused.
type Decision struct {
	Blocked    bool
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

type entry struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// Limiter is safe for concurrent use. Two requests may observe the same
// pre-increment count; the persisted counter bounds the damage.
type Limiter struct {
	cfg     Config
	counter FailureCounter
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(cfg Config, counter FailureCounter, logger *zap.Logger, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		cfg:     cfg,
		counter: counter,
		logger:  logger.Named("ratelimit"),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config { return l.cfg }

// Check reports whether ip may attempt a login now.
func (l *Limiter) Check(ctx context.Context, ip string) Decision {
	ip = normalizeKey(ip)
	now := l.now()

	l.mu.Lock()
	var local int
	if e, ok := l.entries[ip]; ok {
		switch {
		case e.blockedUntil.After(now):
			d := Decision{Blocked: true, Attempts: e.count, RetryAfter: e.blockedUntil.Sub(now)}
			l.mu.Unlock()
			return d
		case now.Sub(e.windowStart) > l.cfg.Window:
			delete(l.entries, ip)
		default:
			local = e.count
		}
	}
	l.mu.Unlock()

	if l.counter == nil {
		return Decision{Attempts: local}
	}
	persisted, err := l.counter.CountRecentFailures(ctx, ip, l.cfg.Window)
	if err != nil {
		l.logger.Warn("persisted failure count unavailable", zap.String("ip", ip), zap.Error(err))
		return Decision{Attempts: local, Err: err}
	}
	if persisted >= l.cfg.MaxAttempts {
		return Decision{Blocked: true, Attempts: persisted, RetryAfter: l.cfg.Window}
	}
	return Decision{Attempts: max(local, persisted)}
}

// OnFailure records a failed attempt and returns the count inside the
// current window. Reaching MaxAttempts starts a lockout of one window.
func (l *Limiter) OnFailure(ip string) int {
	ip = normalizeKey(ip)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok || now.Sub(e.windowStart) > l.cfg.Window {
		e = &entry{windowStart: now}
		l.entries[ip] = e
	}
	e.count++
	if e.count >= l.cfg.MaxAttempts {
		e.blockedUntil = now.Add(l.cfg.Window)
		l.logger.Warn("lockout engaged", zap.String("ip", ip), zap.Int("count", e.count))
	}
	return e.count
}

// OnSuccess forgets local state for ip.
func (l *Limiter) OnSuccess(ip string) {
	ip = normalizeKey(ip)
	l.mu.Lock()
	delete(l.entries, ip)
	l.mu.Unlock()
}

// Delay is the synthetic pause imposed after the count-th failure.
func (l *Limiter) Delay(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	d := l.cfg.BaseDelay + time.Duration(count)*l.cfg.DelayStep
	if d > l.cfg.MaxDelay {
		return l.cfg.MaxDelay
	}
	return d
}

// Prune drops entries whose window and lockout have both lapsed.
func (l *Limiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, e := range l.entries {
		if now.Sub(e.windowStart) > l.cfg.Window && !e.blockedUntil.After(now) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports tracked sources.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run prunes on every tick until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				l.logger.Debug("pruned rate entries", zap.Int("removed", n))
			}
		}
	}
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func normalizeKey(ip string) string {
	if ip == "" {
		return unknownKey
	}
	return ip
}
