package httpapi

import (
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"sitekeeper.io/internal/audit"
	"sitekeeper.io/internal/auth"
	"sitekeeper.io/internal/obs"
)

const loginTarget = "admin_login"

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleLogin runs check, verify, then mint or delay, then audit, then respond.
// Every authentication failure gets the same 401 whatever its cause.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r, a.opts.TrustProxy)

	decision := a.limiter.Check(ctx, ip)
	if decision.Err != nil && !decision.Blocked {
		a.logger.Error("login throttle unavailable", zap.String("ip", ip), zap.Error(decision.Err))
		obs.LoginAttempt("error")
		writeError(w, r, http.StatusInternalServerError, "login unavailable")
		return
	}
	if decision.Blocked {
		attempts := decision.Attempts
		ev := a.requestEvent(r, audit.ActionLockout, audit.ResultBlocked)
		ev.Target = loginTarget
		ev.Attempts = &attempts
		a.audit.Append(ctx, ev)
		obs.LoginAttempt("blocked")

		w.Header().Set("Retry-After", retryAfterSeconds(decision.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, loginResponse{OK: false, Error: "too many attempts, try again later"})
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.logger.Debug("login body rejected", zap.Error(err))
		req.Password = ""
	}

	actor, ok := a.verify(r, req.Password)
	if !ok {
		a.loginFailed(w, r, ip)
		return
	}

	a.limiter.OnSuccess(ip)
	token, err := a.sessions.Mint(actor.ID)
	if err != nil {
		a.logger.Error("cannot issue session", zap.Error(err))
		obs.LoginAttempt("error")
		writeError(w, r, http.StatusInternalServerError, "login unavailable")
		return
	}
	a.setSessionCookie(w, token)

	ev := a.requestEvent(r, audit.ActionLoginSuccess, audit.ResultSuccess)
	ev.Target = loginTarget
	ev.ActorID = actor.ID
	ev.ActorLabel = actor.Label
	if s, err := a.sessions.Parse(token); err == nil {
		ev.SessionID = s.SessionID
	}
	a.audit.Append(ctx, ev)
	obs.LoginAttempt("success")

	writeJSON(w, http.StatusOK, loginResponse{OK: true})
}

// verify enforces the code length before running the KDF.
func (a *API) verify(r *http.Request, code string) (auth.Actor, bool) {
	if a.opts.CodeLength > 0 && utf8.RuneCountInString(code) != a.opts.CodeLength {
		return auth.Actor{}, false
	}
	return a.actors.Verify(r.Context(), code)
}

func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, ip string) {
	ctx := r.Context()
	count := a.limiter.OnFailure(ip)
	if err := a.wait(ctx, a.limiter.Delay(count)); err != nil {
		a.logger.Debug("client left during failure delay", zap.String("ip", ip))
	}

	attempts := count
	ev := a.requestEvent(r, audit.ActionLoginFailed, audit.ResultFailed)
	ev.Target = loginTarget
	ev.Attempts = &attempts
	a.audit.Append(ctx, ev)
	obs.LoginAttempt("failed")

	writeJSON(w, http.StatusUnauthorized, loginResponse{OK: false})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)

	ev := a.requestEvent(r, audit.ActionLogout, audit.ResultSuccess)
	ev.Target = loginTarget
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		ev.ActorID = s.ActorID
		ev.SessionID = s.SessionID
		if actor, ok := a.actors.Lookup(s.ActorID); ok {
			ev.ActorLabel = actor.Label
		}
	}
	a.audit.Append(r.Context(), ev)

	writeJSON(w, http.StatusOK, loginResponse{OK: true})
}
