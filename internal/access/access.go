// Package access decides whether the current session may enter a route and
// where to send it when it may not.
package access

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"donorlink.org/internal/auth"
	"donorlink.org/internal/obs"
)

const LoginPath = "/login"

// Route annotates a path prefix with the roles allowed to enter it. A route with
// no roles is explicitly public.
type Route struct {
	Prefix string
	Roles  []auth.Role
}

// DefaultRoutes is the route table of the donorlink web client.
var DefaultRoutes = []Route{
	{Prefix: "/donor", Roles: []auth.Role{auth.RoleDonor}},
	{Prefix: "/ngo", Roles: []auth.Role{auth.RoleNGO}},
	{Prefix: "/admin", Roles: []auth.Role{auth.RoleAdmin}},
	{Prefix: "/admin/login"},
	{Prefix: "/admin/register"},
	{Prefix: "/profile", Roles: []auth.Role{auth.RoleDonor, auth.RoleNGO}},
	{Prefix: "/notifications", Roles: []auth.Role{auth.RoleDonor, auth.RoleNGO, auth.RoleAdmin}},
}

// Home returns the landing page for role.
func Home(role auth.Role) string {
	switch role {
	case auth.RoleDonor:
		return "/donor/dashboard"
	case auth.RoleNGO:
		return "/ngo/dashboard"
	case auth.RoleAdmin:
		return "/admin/dashboard"
	default:
		return LoginPath
	}
}

// Decision is the outcome of one access check.
type Decision struct {
	Allowed  bool
	Redirect string
	Reason   string
}

// Session is the part of the session store the authority reads.
type Session interface {
	IsAuthenticated() bool
	Role(ctx context.Context) auth.Role
}

// Authority evaluates routes against the live session on every call.
type Authority struct {
	session Session
	routes  []Route
}

// NewAuthority builds an authority over routes; nil routes uses DefaultRoutes.
func NewAuthority(session Session, routes []Route) *Authority {
	if routes == nil {
		routes = DefaultRoutes
	}
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	// Longest prefix first so nested public routes override their parent.
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Authority{session: session, routes: sorted}
}

func (a *Authority) match(path string) (Route, bool) {
	path = normalize(path)
	for _, r := range a.routes {
		p := normalize(r.Prefix)
		if path == p || strings.HasPrefix(path, p+"/") {
			return r, true
		}
	}
	return Route{}, false
}

// routeAllows reports whether role may enter route. A route without roles is public.
func routeAllows(route Route, role auth.Role) bool {
	if len(route.Roles) == 0 {
		return true
	}
	for _, r := range route.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Check decides whether the current session may enter path.
func (a *Authority) Check(ctx context.Context, path string) Decision {
	route, ok := a.match(path)
	if !ok || len(route.Roles) == 0 {
		return Decision{Allowed: true}
	}
	if !a.session.IsAuthenticated() {
		return Decision{Redirect: LoginPath, Reason: "unauthenticated"}
	}
	role := a.session.Role(ctx)
	if routeAllows(route, role) {
		return Decision{Allowed: true}
	}

	home := Home(role)
	homeRoute, _ := a.match(home)
	if normalize(home) == normalize(path) || !routeAllows(homeRoute, role) {
		home = LoginPath
	}
	obs.Logger().Info("access_event", "event", "denied", "path", path, "role", role.String(), "redirect", home)
	return Decision{Redirect: home, Reason: "forbidden"}
}

// Middleware redirects denied requests with 303 See Other.
func (a *Authority) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := a.Check(r.Context(), r.URL.Path)
		if !d.Allowed {
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
