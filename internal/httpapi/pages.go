package httpapi

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"net/url"

	"inspectdesk.io/internal/audit"
	"inspectdesk.io/internal/auth"
	"inspectdesk.io/internal/guard"
	"inspectdesk.io/internal/notify"
	"inspectdesk.io/internal/session"
)

// page is one guarded back-office screen.
type page struct {
	Path     string
	Title    string
	Require  guard.Requirement
	Fallback bool
	load     func(ctx context.Context, u auth.User, v *view) error
}

func (a *API) pages() []page {
	return []page{
		{Path: "/", Title: "Dashboard", Require: guard.MustRequire(guard.Requirement{})},
		{
			Path:    "/companies",
			Title:   "Companies",
			Require: guard.MustRequire(guard.Requirement{Roles: []auth.Role{auth.RoleSuperAdmin}}),
			load:    a.loadCompanies,
		},
		{
			Path:  "/users",
			Title: "Users",
			Require: guard.MustRequire(guard.Requirement{
				Roles:      []auth.Role{auth.RoleSuperAdmin, auth.RoleAdmin},
				Permission: auth.PermUsersView,
			}),
			load: a.loadUsers,
		},
		{
			Path:     "/users/new",
			Title:    "New user",
			Require:  guard.MustRequire(guard.Requirement{Permission: auth.PermUsersCreate}),
			Fallback: true,
		},
		{Path: "/api-tokens", Title: "API tokens", Require: guard.MustRequire(guard.Requirement{Permission: auth.PermAPITokensView})},
		{Path: "/cost-matrices", Title: "Cost matrices", Require: guard.MustRequire(guard.Requirement{Permission: auth.PermCostMatricesView})},
		{Path: "/chase-up-rules", Title: "Chase-up rules", Require: guard.MustRequire(guard.Requirement{Permission: auth.PermChaseUpRulesView})},
		{Path: "/journeys", Title: "Journeys", Require: guard.MustRequire(guard.Requirement{Permission: auth.PermJourneysView})},
	}
}

func (a *API) loadCompanies(ctx context.Context, _ auth.User, v *view) error {
	if a.directory == nil {
		return nil
	}
	list, err := a.directory.ListCompanies(ctx)
	if err != nil {
		return err
	}
	v.Companies = list
	return nil
}

func (a *API) loadUsers(ctx context.Context, u auth.User, v *view) error {
	if a.directory == nil {
		return nil
	}
	list, err := a.directory.ListUsers(ctx, u.CompanyID)
	if err != nil {
		return err
	}
	v.Users = list
	return nil
}

func (a *API) guarded(pg page) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pg.Path == "/" && r.URL.Path != "/" {
			a.render(w, r, http.StatusNotFound, "error", view{Title: "Not found", Message: "This page does not exist."})
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		st := providerFrom(r.Context()).State()
		o := guard.Evaluate(st, pg.Require, r.URL.RequestURI(), pg.Fallback)
		if o.Reason != auth.KindUnknown {
			_ = audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{
				"path":     r.URL.Path,
				"reason":   o.Reason.String(),
				"decision": o.Decision.String(),
			})
		}
		guard.Apply(o, &navigator{api: a, w: w, r: r, page: pg, state: st})
	})
}

// navigator carries a guard outcome out to one HTTP response.
type navigator struct {
	api   *API
	w     http.ResponseWriter
	r     *http.Request
	page  page
	state session.State
}

func (n *navigator) RenderPending() {
	n.w.Header().Set("Retry-After", "1")
	n.api.render(n.w, n.r, http.StatusServiceUnavailable, "pending", view{Title: n.page.Title})
}

func (n *navigator) RedirectToLogin(returnTo string) {
	http.Redirect(n.w, n.r, "/login?next="+url.QueryEscape(returnTo), http.StatusSeeOther)
}

func (n *navigator) RedirectToUnauthorized() {
	http.Redirect(n.w, n.r, "/unauthorized", http.StatusSeeOther)
}

func (n *navigator) RenderFallback() {
	n.api.render(n.w, n.r, http.StatusOK, "page", view{Title: n.page.Title, ReadOnly: true})
}

func (n *navigator) RenderProtected() {
	v := view{Title: n.page.Title}
	if n.page.load != nil {
		if err := n.page.load(n.r.Context(), n.state.User, &v); err != nil {
			n.api.log.Error().Err(err).Str("path", n.page.Path).Msg("load page data")
			n.api.render(n.w, n.r, http.StatusInternalServerError, "error", view{Title: "Error", Message: "This page could not be loaded."})
			return
		}
	}
	n.api.render(n.w, n.r, http.StatusOK, "page", v)
}

type view struct {
	Title     string
	Message   string
	Next      string
	Email     string
	ReadOnly  bool
	User      *auth.User
	Notices   []notify.Notice
	Companies []auth.Company
	Users     []auth.User
}

// render executes a page template, filling in the signed-in user and the
// session's notices.
func (a *API) render(w http.ResponseWriter, r *http.Request, code int, name string, v view) {
	if p := providerFrom(r.Context()); p != nil {
		if st := p.State(); st.IsAuthenticated() {
			u := st.User
			v.User = &u
		}
		v.Notices = a.notices.Active(sessionIDFrom(r.Context()))
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		a.log.Error().Err(err).Str("template", name).Msg("render")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

var templates = template.Must(template.New("pages").Parse(`
{{define "head"}}<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}} | inspectdesk</title></head>
<body>
{{if .User}}<header><nav>
<a href="/">Dashboard</a> <a href="/journeys">Journeys</a> <a href="/companies">Companies</a> <a href="/users">Users</a>
<a href="/api-tokens">API tokens</a> <a href="/cost-matrices">Cost matrices</a> <a href="/chase-up-rules">Chase-up rules</a>
</nav>
<span class="user">{{.User.Name}} ({{.User.Role}})</span>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
</header>{{end}}
{{range .Notices}}<div class="notice {{.Category}}" data-id="{{.ID}}">{{.Message}}</div>
{{end}}<main>{{end}}

{{define "foot"}}</main></body></html>{{end}}

{{define "login"}}{{template "head" .}}
<h1>Sign in</h1>
{{with .Message}}<p class="error" role="alert">{{.}}</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="next" value="{{.Next}}">
<label>Email <input type="email" name="email" value="{{.Email}}" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
{{template "foot" .}}{{end}}

{{define "pending"}}{{template "head" .}}
<p aria-busy="true">Checking your session…</p>
{{template "foot" .}}{{end}}

{{define "unauthorized"}}{{template "head" .}}
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
<p><a href="/">Back to the dashboard</a></p>
{{template "foot" .}}{{end}}

{{define "error"}}{{template "head" .}}
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{template "foot" .}}{{end}}

{{define "page"}}{{template "head" .}}
<h1>{{.Title}}</h1>
{{if .ReadOnly}}<p class="notice warning" role="status">You can view this area but do not have permission to make changes here.</p>{{end}}
{{with .Companies}}<table><thead><tr><th>Company</th><th>Created</th></tr></thead><tbody>
{{range .}}<tr><td>{{.Name}}</td><td>{{.CreatedAt.Format "2006-01-02"}}</td></tr>
{{end}}</tbody></table>{{end}}
{{with .Users}}<table><thead><tr><th>Name</th><th>Email</th><th>Role</th></tr></thead><tbody>
{{range .}}<tr><td>{{.Name}}</td><td>{{.Email}}</td><td>{{.Role}}</td></tr>
{{end}}</tbody></table>{{end}}
{{template "foot" .}}{{end}}
`))
