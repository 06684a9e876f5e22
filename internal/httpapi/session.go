package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inspectdesk.io/internal/audit"
	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/notify"
	"inspectdesk.io/internal/session"
)

type providerKey struct{}

// withSession binds the request to its browser session. Requests without a
// registered session are served from a transient signed-out provider.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, p := a.resolveSession(w, r)
		ctx := auth.ContextWithSessionID(r.Context(), sid)
		ctx = context.WithValue(ctx, providerKey{}, p)
		if st := p.State(); st.IsAuthenticated() {
			ctx = auth.ContextWithUser(ctx, st.User)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveSession returns the registered session named by the cookie. Anyone
// else gets an unregistered provider and no session id: ids are only issued
// by a successful login.
func (a *API) resolveSession(w http.ResponseWriter, r *http.Request) (string, *session.Provider) {
	stale := false
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		if p, ok := a.sessions.Get(c.Value); ok {
			return c.Value, p
		}
		stale = true
	}

	p := a.sessions.Transient()
	// Tokens never leave the server, so there is nothing to resume.
	if err := p.Restore(r.Context(), auth.TokenPair{}); err != nil {
		a.log.Warn().Err(err).Msg("restore anonymous session")
	}
	if stale {
		p.Invalidate(auth.KindSessionExpired.Message())
		a.clearSessionCookie(w)
	}
	return "", p
}

func (a *API) setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func providerFrom(ctx context.Context) *session.Provider {
	p, _ := ctx.Value(providerKey{}).(*session.Provider)
	return p
}

func sessionIDFrom(ctx context.Context) string {
	sid, _ := auth.SessionIDFromContext(ctx)
	return sid
}

// safeNext keeps post-login redirects on this origin and away from the
// login page itself.
func safeNext(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	if u.Path == "/login" || u.Path == "/logout" {
		return "/"
	}
	return u.RequestURI()
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		a.showLogin(w, r)
	case http.MethodPost:
		a.submitLogin.ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) showLogin(w http.ResponseWriter, r *http.Request) {
	p := providerFrom(r.Context())
	next := safeNext(r.URL.Query().Get("next"))
	st := p.State()
	if st.IsAuthenticated() {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	a.render(w, r, http.StatusOK, "login", view{
		Title:   "Sign in",
		Message: st.Message,
		Next:    next,
	})
}

// handleLoginSubmit signs in on a fresh provider. On success that provider
// is registered under a new session id and any previous session of this
// browser is removed, so an id seen before login never names the signed-in
// session. A failed attempt leaves the current session untouched.
func (a *API) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		a.render(w, r, http.StatusBadRequest, "login", view{Title: "Sign in", Message: "The sign-in form could not be read.", Next: "/"})
		return
	}
	next := safeNext(r.PostForm.Get("next"))
	creds := auth.Credentials{
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
	}

	p := a.sessions.Transient()
	if err := p.Login(ctx, creds); err != nil {
		ae := session.Classify(err)
		_ = audit.LogEvent(ctx, audit.EventLoginFailed, map[string]any{
			"email":  creds.Email,
			"reason": ae.Kind.String(),
		})
		// A failed attempt never navigates away from the form.
		a.render(w, r, statusForKind(ae.Kind), "login", view{
			Title:   "Sign in",
			Message: ae.Message(),
			Next:    next,
			Email:   creds.Email,
		})
		return
	}

	sid := a.sessions.Adopt(p)
	if prev := sessionIDFrom(ctx); prev != "" {
		a.sessions.Remove(prev)
	}
	a.setSessionCookie(w, sid)

	st := p.State()
	ctx = auth.ContextWithUser(auth.ContextWithSessionID(ctx, sid), st.User)
	_ = audit.LogEvent(ctx, audit.EventLogin, map[string]any{"email": st.User.Email})
	_, _ = a.notices.Success("Signed in as "+st.User.Name+".", notify.For(sid))
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := r.Context()
	p := providerFrom(ctx)
	wasAuthenticated := p.State().IsAuthenticated()
	if err := p.Logout(ctx); err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionIDFrom(ctx)).Msg("logout")
	}
	if wasAuthenticated {
		_ = audit.LogEvent(ctx, audit.EventLogout, nil)
		_, _ = a.notices.Info("You have been signed out.", notify.For(sessionIDFrom(ctx)))
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (a *API) handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.render(w, r, http.StatusForbidden, "unauthorized", view{
		Title:   "Access denied",
		Message: auth.KindInsufficientPermission.Message(),
	})
}

type sessionView struct {
	Status      string     `json:"status"`
	User        *auth.User `json:"user,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	Message     string     `json:"message,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Generation  uint64     `json:"generation"`
}

func newSessionView(st session.State) sessionView {
	v := sessionView{
		Status:     st.Status.String(),
		Message:    st.Message,
		Generation: st.Generation,
	}
	if st.IsAuthenticated() {
		u := st.User
		v.User = &u
		v.Permissions = u.Permissions.Sorted()
		if !st.Tokens.ExpiresAt.IsZero() {
			exp := st.Tokens.ExpiresAt.UTC()
			v.ExpiresAt = &exp
		}
	}
	return v
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(providerFrom(r.Context()).State()))
}

func (a *API) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := r.Context()
	p := providerFrom(ctx)
	err := p.Refresh(ctx)
	switch {
	case err == nil:
		_ = audit.LogEvent(ctx, audit.EventRefresh, nil)
		writeJSON(w, http.StatusOK, newSessionView(p.State()))
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, "not signed in")
	case errors.Is(err, session.ErrSuperseded):
		writeError(w, r, http.StatusConflict, "session changed during refresh")
	default:
		writeAuthError(w, r, err)
	}
}
