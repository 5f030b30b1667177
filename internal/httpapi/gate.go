package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitekeeper.io/internal/auth"
	"sitekeeper.io/internal/obs"
)

const (
	sessionCookie = "admin_session"
	loginPagePath = "/admin/login"
)

var exemptPaths = []string{
	loginPagePath,
	"/api/admin/login",
}

var protectedPrefixes = []string{
	"/admin/",
	"/api/admin/",
}

func isExemptPath(path string) bool {
	for _, p := range exemptPaths {
		if path == p {
			return true
		}
	}
	return false
}

func isProtectedPath(path string) bool {
	if isExemptPath(path) {
		return false
	}
	if path == "/admin" {
		return true
	}
	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// withAccessGate requires a valid session on admin UI and admin API paths.
// Sessions old enough to rotate get a fresh cookie on the same response.
func (a *API) withAccessGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isProtectedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		session, ok := a.sessionFromRequest(r)
		if !ok {
			a.deny(w, r)
			return
		}

		if a.sessions.ShouldRotate(session) {
			if token, err := a.sessions.Mint(session.ActorID); err == nil {
				if fresh, err := a.sessions.Parse(token); err == nil {
					a.setSessionCookie(w, token)
					obs.SessionRotated()
					a.logger.Debug("session rotated",
						zap.String("actor_id", session.ActorID),
						zap.String("previous_session", session.SessionID),
						zap.String("session_id", fresh.SessionID))
					session = fresh
				}
			} else {
				a.logger.Error("session rotation failed", zap.Error(err))
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), session)))
	})
}

// sessionFromRequest parses the cookie and confirms the actor is still configured.
func (a *API) sessionFromRequest(r *http.Request) (auth.Session, bool) {
	if a.sessions == nil {
		return auth.Session{}, false
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return auth.Session{}, false
	}
	s, err := a.sessions.Parse(c.Value)
	if err != nil {
		return auth.Session{}, false
	}
	if _, ok := a.actors.Lookup(s.ActorID); !ok {
		return auth.Session{}, false
	}
	return s, true
}

func (a *API) deny(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		writeJSON(w, http.StatusUnauthorized, loginResponse{OK: false})
		return
	}
	http.Redirect(w, r, loginPagePath, http.StatusSeeOther)
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string) {
	maxAge := auth.DefaultMaxAge
	if a.sessions != nil {
		maxAge = a.sessions.MaxAge()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
