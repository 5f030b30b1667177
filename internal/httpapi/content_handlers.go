package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sitekeeper.io/internal/audit"
	"sitekeeper.io/internal/auth"
	"sitekeeper.io/internal/content"
)

type contentSaveResponse struct {
	OK       bool              `json:"ok"`
	Document content.Document  `json:"document"`
	Diff     []audit.DiffEntry `json:"diff"`
}

func (a *API) handleGetContent(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]
	if !content.ValidDomain(domain) {
		writeError(w, r, http.StatusBadRequest, content.ErrInvalidDomain.Error())
		return
	}
	if a.content == nil {
		writeError(w, r, http.StatusInternalServerError, "content store unavailable")
		return
	}
	doc, err := a.content.Current(r.Context(), domain)
	if err != nil {
		a.handleContentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handlePutContent replaces a domain snapshot and records a content_update
// event carrying the before/after values and their diff.
func (a *API) handlePutContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domain := mux.Vars(r)["domain"]
	if !content.ValidDomain(domain) {
		writeError(w, r, http.StatusBadRequest, content.ErrInvalidDomain.Error())
		return
	}
	if a.content == nil {
		writeError(w, r, http.StatusInternalServerError, "content store unavailable")
		return
	}

	var body json.RawMessage
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var before json.RawMessage
	current, err := a.content.Current(ctx, domain)
	switch {
	case err == nil:
		before = current.Body
	case errors.Is(err, content.ErrNotFound):
	default:
		a.handleContentError(w, r, err)
		return
	}

	session, _ := auth.SessionFromContext(ctx)
	doc := content.Document{
		Domain:    domain,
		Body:      body,
		UpdatedAt: a.now().UTC(),
		UpdatedBy: session.ActorID,
	}
	if err := a.content.Save(ctx, doc); err != nil {
		a.handleContentError(w, r, err)
		return
	}

	var beforeVal any
	if before != nil {
		beforeVal = before
	}
	diff := audit.BuildDiff(beforeVal, body)

	ev := a.requestEvent(r, audit.ActionContentUpdate, audit.ResultSuccess)
	ev.Target = domain
	ev.ActorID = session.ActorID
	ev.SessionID = session.SessionID
	if actor, ok := a.actors.Lookup(session.ActorID); ok {
		ev.ActorLabel = actor.Label
	}
	if before != nil {
		ev.Before = before
	}
	ev.After = body
	ev.Diff = diff
	a.audit.Append(ctx, ev)

	writeJSON(w, http.StatusOK, contentSaveResponse{OK: true, Document: doc, Diff: diff})
}

func (a *API) handleContentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "content not found")
	case errors.Is(err, content.ErrInvalidDomain), errors.Is(err, content.ErrInvalidBody):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("content store failure", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "content store unavailable")
	}
}
