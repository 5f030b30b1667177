package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sitekeeper.io/internal/audit"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// AuditStore persists audit events in audit_events. It never updates or
// deletes rows; the table trigger rejects both.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Insert(ctx context.Context, ev *audit.Event) error {
	var jsonArgs [5]any
	for i, v := range []any{ev.Before, ev.After, diffArg(ev.Diff), geoArg(ev.Geo), metadataArg(ev.Metadata)} {
		arg, err := jsonArg(v)
		if err != nil {
			return fmt.Errorf("encode audit event %s: %w", ev.ID, err)
		}
		jsonArgs[i] = arg
	}
	var attempts sql.NullInt64
	if ev.Attempts != nil {
		attempts = sql.NullInt64{Int64: int64(*ev.Attempts), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (
			id, created_at, actor_id, actor_label, action, target, result,
			before, after, diff, request_id, session_id, ip_address, user_agent,
			geo, attempts, metadata
		) values (
			$1, $2, $3, $4, $5, $6, $7,
			$8::jsonb, $9::jsonb, $10::jsonb, $11, $12, $13, $14,
			$15::jsonb, $16, $17::jsonb
		)`,
		ev.ID, ev.CreatedAt, nullString(ev.ActorID), nullString(ev.ActorLabel), string(ev.Action),
		nullString(ev.Target), string(ev.Result),
		jsonArgs[0], jsonArgs[1], jsonArgs[2],
		nullString(ev.RequestID), nullString(ev.SessionID), nullString(ev.IPAddress), nullString(ev.UserAgent),
		jsonArgs[3], attempts, jsonArgs[4],
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *AuditStore) CountFailures(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from audit_events
		where action = $1 and ip_address = $2 and created_at >= $3`,
		string(audit.ActionLoginFailed), ip, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count login failures: %w", err)
	}
	return n, nil
}

func (s *AuditStore) Recent(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.Action != "" {
		args = append(args, string(q.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if q.IP != "" {
		args = append(args, q.IP)
		where = append(where, fmt.Sprintf("ip_address = $%d", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	args = append(args, limit)

	var sb strings.Builder
	sb.WriteString(`select id, created_at, actor_id, actor_label, action, target, result,
		before, after, diff, request_id, session_id, ip_address, user_agent,
		geo, attempts, metadata
		from audit_events`)
	if len(where) > 0 {
		sb.WriteString(" where ")
		sb.WriteString(strings.Join(where, " and "))
	}
	fmt.Fprintf(&sb, " order by created_at desc, id desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var (
		ev                                         audit.Event
		action, result                             string
		actorID, actorLabel, target                sql.NullString
		requestID, sessionID, ipAddress, userAgent sql.NullString
		before, after, diff, geo, metadata         []byte
		attempts                                   sql.NullInt64
	)
	if err := rows.Scan(&ev.ID, &ev.CreatedAt, &actorID, &actorLabel, &action, &target, &result,
		&before, &after, &diff, &requestID, &sessionID, &ipAddress, &userAgent,
		&geo, &attempts, &metadata); err != nil {
		return audit.Event{}, fmt.Errorf("scan audit event: %w", err)
	}
	ev.Action = audit.Action(action)
	ev.Result = audit.Result(result)
	ev.ActorID, ev.ActorLabel, ev.Target = actorID.String, actorLabel.String, target.String
	ev.RequestID, ev.SessionID = requestID.String, sessionID.String
	ev.IPAddress, ev.UserAgent = ipAddress.String, userAgent.String
	if attempts.Valid {
		n := int(attempts.Int64)
		ev.Attempts = &n
	}
	if len(before) > 0 {
		ev.Before = json.RawMessage(before)
	}
	if len(after) > 0 {
		ev.After = json.RawMessage(after)
	}
	if len(diff) > 0 {
		if err := json.Unmarshal(diff, &ev.Diff); err != nil {
			return audit.Event{}, fmt.Errorf("decode diff of %s: %w", ev.ID, err)
		}
	}
	if len(geo) > 0 {
		var g audit.Geo
		if err := json.Unmarshal(geo, &g); err != nil {
			return audit.Event{}, fmt.Errorf("decode geo of %s: %w", ev.ID, err)
		}
		ev.Geo = &g
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return audit.Event{}, fmt.Errorf("decode metadata of %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

func diffArg(d []audit.DiffEntry) any {
	if d == nil {
		return nil
	}
	return d
}

func geoArg(g *audit.Geo) any {
	if g == nil || g.Empty() {
		return nil
	}
	return g
}

func metadataArg(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
