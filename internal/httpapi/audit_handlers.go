package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"sitekeeper.io/internal/audit"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type auditListQuery struct {
	Action string `validate:"omitempty,oneof=login_success login_failed lockout logout content_update"`
	IP     string `validate:"omitempty,ip"`
	Limit  int    `validate:"min=1,max=500"`
}

type auditListResponse struct {
	Events []audit.Event `json:"events"`
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), defaultAuditLimit, 1, maxAuditLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	params := auditListQuery{
		Action: q.Get("action"),
		IP:     q.Get("ip"),
		Limit:  limit,
	}
	if err := a.validate.Struct(params); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid audit query")
		return
	}

	events, err := a.audit.Recent(r.Context(), audit.Query{
		Action: audit.Action(params.Action),
		IP:     params.IP,
		Limit:  params.Limit,
	})
	if err != nil {
		if errors.Is(err, audit.ErrNoStore) {
			writeError(w, r, http.StatusServiceUnavailable, "audit store not configured")
			return
		}
		a.logger.Error("audit listing failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "audit store unavailable")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, auditListResponse{Events: events})
}
