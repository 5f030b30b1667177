package audit

import (
	"context"
	"time"
)

// Action names the audited operation.
type Action string

const (
	ActionLoginSuccess  Action = "login_success"
	ActionLoginFailed   Action = "login_failed"
	ActionLockout       Action = "lockout"
	ActionLogout        Action = "logout"
	ActionContentUpdate Action = "content_update"
)

// Result is the outcome recorded with an event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultBlocked Result = "blocked"
)

// Geo holds coarse location hints supplied by the edge in front of the service.
type Geo struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Empty reports whether no hint was supplied.
func (g Geo) Empty() bool {
	return g.Country == "" && g.Region == "" && g.City == ""
}

// Event is one immutable audit record. Events are only ever inserted.
type Event struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorLabel string         `json:"actor_label,omitempty"`
	Action     Action         `json:"action"`
	Target     string         `json:"target,omitempty"`
	Result     Result         `json:"result"`
	Before     any            `json:"before,omitempty"`
	After      any            `json:"after,omitempty"`
	Diff       []DiffEntry    `json:"diff,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Geo        *Geo           `json:"geo,omitempty"`
	Attempts   *int           `json:"attempts,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Query filters Recent listings. Zero values mean "any".
type Query struct {
	Action Action
	IP     string
	Since  time.Time
	Limit  int
}

// Store is the append-only persistence sink for audit events.
type Store interface {
	Insert(ctx context.Context, event *Event) error
	CountFailures(ctx context.Context, ip string, since time.Time) (int, error)
	Recent(ctx context.Context, q Query) ([]Event, error)
}
