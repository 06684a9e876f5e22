package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/notify"
	"inspectdesk.io/internal/obs"
	"inspectdesk.io/internal/session"
)

const (
	defaultCookieName = "inspectdesk_session"
	maxBodyBytes      = 1 << 20
)

// ReadyProbe checks dependencies before the service reports ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// TokenService is the session authority behind both the browser flow and
// the token API.
type TokenService interface {
	session.Backend
	Authenticate(ctx context.Context, accessToken string) (auth.User, error)
}

// Directory supplies the data shown on back-office pages.
type Directory interface {
	ListCompanies(ctx context.Context) ([]auth.Company, error)
	ListUsers(ctx context.Context, companyID string) ([]auth.User, error)
}

// Options wires an API. Sessions and Tokens are required.
type Options struct {
	Sessions     *session.Registry
	Tokens       TokenService
	Directory    Directory
	Notices      *notify.Center
	Ready        readinessChecker
	Version      string
	CookieName   string
	CookieSecure bool
	LoginBurst   int
	LoginRate    int
	// TrustProxy keys the login limiter on X-Forwarded-For.
	TrustProxy bool
}

// API is the HTTP layer: browser pages behind route guards, the session
// endpoints and the token API.
type API struct {
	mux          *http.ServeMux
	sessions     *session.Registry
	tokens       TokenService
	directory    Directory
	notices      *notify.Center
	readyProbe   readinessChecker
	version      string
	cookieName   string
	cookieSecure bool
	log          zerolog.Logger

	submitLogin http.Handler
	issueToken  http.Handler
}

func New(opts Options) *API {
	if opts.Sessions == nil || opts.Tokens == nil {
		panic("httpapi: sessions and tokens are required")
	}
	a := &API{
		mux:          http.NewServeMux(),
		sessions:     opts.Sessions,
		tokens:       opts.Tokens,
		directory:    opts.Directory,
		notices:      opts.Notices,
		readyProbe:   opts.Ready,
		version:      opts.Version,
		cookieName:   opts.CookieName,
		cookieSecure: opts.CookieSecure,
		log:          obs.Component("httpapi"),
	}
	if a.cookieName == "" {
		a.cookieName = defaultCookieName
	}
	if a.notices == nil {
		a.notices = notify.NewCenter()
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	burst, perSec := opts.LoginBurst, opts.LoginRate
	if burst <= 0 {
		burst = 5
	}
	if perSec <= 0 {
		perSec = 1
	}
	a.submitLogin = RateLimit(http.HandlerFunc(a.handleLoginSubmit), burst, perSec, opts.TrustProxy)
	a.issueToken = RateLimit(http.HandlerFunc(a.handleAuthToken), burst, perSec, opts.TrustProxy)

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// token API
	a.mux.Handle("/v1/auth/token", CORS(http.HandlerFunc(a.handleAuthTokenRoute)))
	a.mux.Handle("/v1/auth/refresh", CORS(http.HandlerFunc(a.handleAuthRefresh)))
	a.mux.Handle("/v1/auth/logout", CORS(http.HandlerFunc(a.handleAuthLogout)))
	a.mux.Handle("/v1/auth/me", CORS(http.HandlerFunc(a.handleAuthMe)))

	// browser session
	a.mux.Handle("/login", a.withSession(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/logout", a.withSession(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/unauthorized", a.withSession(http.HandlerFunc(a.handleUnauthorized)))
	a.mux.Handle("/session", a.withSession(http.HandlerFunc(a.handleSession)))
	a.mux.Handle("/session/refresh", a.withSession(http.HandlerFunc(a.handleSessionRefresh)))
	a.mux.Handle("/notifications", a.withSession(http.HandlerFunc(a.handleNotifications)))
	a.mux.Handle("/notifications/stream", a.withSession(http.HandlerFunc(a.Stream)))
	a.mux.Handle("/notifications/", a.withSession(http.HandlerFunc(a.handleNotificationResource)))

	// back office
	for _, pg := range a.pages() {
		a.mux.Handle(pg.Path, a.withSession(a.guarded(pg)))
	}

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     serviceName,
		"time":     time.Now().UTC().Format(time.RFC3339),
		"version":  a.version,
		"sessions": a.sessions.Len(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// statusForKind maps a failure kind onto an HTTP status.
func statusForKind(k auth.Kind) int {
	switch k {
	case auth.KindInvalidCredentials, auth.KindSessionExpired:
		return http.StatusUnauthorized
	case auth.KindInsufficientRole, auth.KindInsufficientPermission:
		return http.StatusForbidden
	case auth.KindNetworkFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrInvalidInput) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ae := session.Classify(err)
	writeError(w, r, statusForKind(ae.Kind), ae.Message())
}
