package pg

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"sitekeeper.io/internal/audit"
)

func newMock(t *testing.T) (*AuditStore, *ContentStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAuditStore(db), NewContentStore(db), mock
}

func TestAuditInsert(t *testing.T) {
	store, _, mock := newMock(t)
	attempts := 3
	ev := &audit.Event{
		ID:        "01JABCDEF",
		CreatedAt: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		ActorID:   "owner",
		Action:    audit.ActionContentUpdate,
		Target:    "home",
		Result:    audit.ResultSuccess,
		Before:    map[string]any{"title": "Old"},
		After:     map[string]any{"title": "New"},
		Diff:      []audit.DiffEntry{{Path: "title", Before: "Old", After: "New"}},
		IPAddress: "10.0.0.1",
		Geo:       &audit.Geo{Country: "DE"},
		Attempts:  &attempts,
	}

	mock.ExpectExec("insert into audit_events").
		WithArgs(
			"01JABCDEF", ev.CreatedAt, "owner", nil, "content_update", "home", "success",
			`{"title":"Old"}`, `{"title":"New"}`, `[{"path":"title","before":"Old","after":"New"}]`,
			nil, nil, "10.0.0.1", nil,
			`{"country":"DE"}`, int64(3), nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Insert(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditInsertError(t *testing.T) {
	store, _, mock := newMock(t)
	mock.ExpectExec("insert into audit_events").WillReturnError(errors.New("conn reset"))

	err := store.Insert(context.Background(), &audit.Event{ID: "x", Action: audit.ActionLogout, Result: audit.ResultSuccess})
	require.ErrorContains(t, err, "insert audit event")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditCountFailures(t *testing.T) {
	store, _, mock := newMock(t)
	since := time.Date(2026, 2, 2, 9, 45, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from audit_events")).
		WithArgs("login_failed", "10.0.0.1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.CountFailures(context.Background(), "10.0.0.1", since)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

var eventColumns = []string{
	"id", "created_at", "actor_id", "actor_label", "action", "target", "result",
	"before", "after", "diff", "request_id", "session_id", "ip_address", "user_agent",
	"geo", "attempts", "metadata",
}

func TestAuditRecentWithFilters(t *testing.T) {
	store, _, mock := newMock(t)
	created := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from audit_events where action = \$1 and ip_address = \$2 order by created_at desc, id desc limit \$3`).
		WithArgs("login_failed", "10.0.0.1", 10).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow("01B", created, nil, nil, "login_failed", nil, "failed",
				nil, nil, nil, "req-2", nil, "10.0.0.1", "curl/8",
				[]byte(`{"country":"NL","city":"Amsterdam"}`), int64(2), []byte(`{"reason":"mismatch"}`)).
			AddRow("01A", created.Add(-time.Minute), nil, nil, "login_failed", nil, "failed",
				nil, nil, nil, "req-1", nil, "10.0.0.1", "curl/8",
				nil, nil, nil))

	events, err := store.Recent(context.Background(), audit.Query{Action: audit.ActionLoginFailed, IP: "10.0.0.1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	require.Equal(t, "01B", first.ID)
	require.Equal(t, audit.ActionLoginFailed, first.Action)
	require.Equal(t, audit.ResultFailed, first.Result)
	require.Equal(t, "req-2", first.RequestID)
	require.NotNil(t, first.Geo)
	require.Equal(t, "Amsterdam", first.Geo.City)
	require.NotNil(t, first.Attempts)
	require.Equal(t, 2, *first.Attempts)
	require.Equal(t, "mismatch", first.Metadata["reason"])

	require.Nil(t, events[1].Geo)
	require.Nil(t, events[1].Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRecentDecodesDiff(t *testing.T) {
	store, _, mock := newMock(t)
	created := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from audit_events order by created_at desc, id desc limit \$1`).
		WithArgs(maxRecentLimit).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow("01C", created, "owner", "Owner", "content_update", "home", "success",
				[]byte(`{"t":1}`), []byte(`{"t":2}`), []byte(`[{"path":"t","before":1,"after":2}]`),
				"req-3", "abc", "10.0.0.3", "ua", nil, nil, nil))

	events, err := store.Recent(context.Background(), audit.Query{Limit: 10_000})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, []audit.DiffEntry{{Path: "t", Before: float64(1), After: float64(2)}}, events[0].Diff)
	require.JSONEq(t, `{"t":1}`, string(events[0].Before.(json.RawMessage)))
	require.NoError(t, mock.ExpectationsWereMet())
}
