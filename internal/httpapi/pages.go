package httpapi

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"sitekeeper.io/internal/auth"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<main>
<h1>{{.Title}}</h1>
{{if .Actor}}<p>Signed in as {{.Actor}}.</p>
<form method="post" action="/api/admin/logout"><button type="submit">Sign out</button></form>{{else}}<p>Submit your access code to <code>POST /api/admin/login</code>.</p>{{end}}
</main>
</body>
</html>
`))

type pageData struct {
	Title string
	Actor string
}

// handleLoginPage serves the unauthenticated entry page.
func (a *API) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, pageData{Title: "Sign in"})
}

// handleAdminPage serves every admin UI route behind the gate.
func (a *API) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Admin"}
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		data.Actor = s.ActorID
		if actor, ok := a.actors.Lookup(s.ActorID); ok {
			data.Actor = actor.Label
		}
	}
	a.renderPage(w, data)
}

func (a *API) renderPage(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		a.logger.Error("render page", zap.Error(err))
	}
}
