package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitekeeper.io/internal/ids"
	"sitekeeper.io/internal/obs"
)

const defaultAppendTimeout = 5 * time.Second

// ErrNoStore is returned by queries when no Store was wired.
var ErrNoStore = errors.New("audit: store not configured")

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Log appends audit events to a Store. Persistence is best effort: a failed
// insert is logged and counted, never returned to the audited operation.
type Log struct {
	store   Store
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithAppendTimeout bounds each insert.
func WithAppendTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLog(store Store, logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		store:   store,
		logger:  logger.Named("audit"),
		timeout: defaultAppendTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stamps and persists event. The insert runs detached from ctx
// cancellation so abandoned requests still leave a record.
func (l *Log) Append(ctx context.Context, event Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}
	if event.ID == "" {
		event.ID = ids.NewAt(event.CreatedAt)
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	fields := []zap.Field{
		zap.String("id", event.ID),
		zap.String("action", string(event.Action)),
		zap.String("result", string(event.Result)),
		zap.String("actor_id", event.ActorID),
		zap.String("target", event.Target),
		zap.String("request_id", event.RequestID),
		zap.String("ip", event.IPAddress),
	}

	if l.store == nil {
		obs.AuditAppendFailed()
		l.logger.Error("audit store not configured", fields...)
		return
	}

	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	if err := l.store.Insert(insertCtx, &event); err != nil {
		obs.AuditAppendFailed()
		l.logger.Error("audit append failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Info("audit event", fields...)
}

// CountRecentFailures counts persisted login_failed events for ip inside
// the trailing window.
func (l *Log) CountRecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	if l.store == nil {
		return 0, ErrNoStore
	}
	return l.store.CountFailures(ctx, ip, l.now().Add(-window))
}

// Recent lists events newest first.
func (l *Log) Recent(ctx context.Context, q Query) ([]Event, error) {
	if l.store == nil {
		return nil, ErrNoStore
	}
	return l.store.Recent(ctx, q)
}
