package access

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"donorlink.org/internal/auth"
	"donorlink.org/internal/auth/authtest"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/obs"
	"donorlink.org/internal/session"
)

type fakeSession struct {
	authenticated bool
	role          auth.Role
	reads         int
}

func (f *fakeSession) IsAuthenticated() bool { return f.authenticated }

func (f *fakeSession) Role(context.Context) auth.Role {
	f.reads++
	return f.role
}

var allPaths = []string{
	"/", "/login", "/register",
	"/donor/dashboard", "/donor/contributions",
	"/ngo/dashboard", "/ngo/profile",
	"/admin/dashboard", "/admin/ngos/42", "/admin/login", "/admin/register",
	"/profile", "/notifications",
}

func TestNoRedirectLoops(t *testing.T) {
	restore := obs.SetLogOutput(io.Discard)
	defer restore()

	sessions := []*fakeSession{
		{authenticated: false},
		{authenticated: true, role: auth.RoleDonor},
		{authenticated: true, role: auth.RoleNGO},
		{authenticated: true, role: auth.RoleAdmin},
		{authenticated: true, role: auth.RoleUnknown},
	}
	for _, s := range sessions {
		a := NewAuthority(s, nil)
		for _, path := range allPaths {
			d := a.Check(context.Background(), path)
			if d.Allowed {
				continue
			}
			if d.Redirect == path {
				t.Fatalf("role %v: %s redirects to itself", s.role, path)
			}
			if next := a.Check(context.Background(), d.Redirect); !next.Allowed {
				t.Fatalf("role %v: %s -> %s is denied again (-> %s)", s.role, path, d.Redirect, next.Redirect)
			}
		}
	}
}

func TestCheck(t *testing.T) {
	restore := obs.SetLogOutput(io.Discard)
	defer restore()

	cases := []struct {
		name     string
		session  *fakeSession
		path     string
		allowed  bool
		redirect string
	}{
		{"public page", &fakeSession{}, "/", true, ""},
		{"unannotated page", &fakeSession{}, "/about", true, ""},
		{"anonymous protected", &fakeSession{}, "/donor/dashboard", false, LoginPath},
		{"admin register public", &fakeSession{}, "/admin/register", true, ""},
		{"donor home", &fakeSession{authenticated: true, role: auth.RoleDonor}, "/donor/dashboard", true, ""},
		{"donor on admin", &fakeSession{authenticated: true, role: auth.RoleDonor}, "/admin/ngos", false, "/donor/dashboard"},
		{"ngo on donor", &fakeSession{authenticated: true, role: auth.RoleNGO}, "/donor/dashboard", false, "/ngo/dashboard"},
		{"admin on ngo", &fakeSession{authenticated: true, role: auth.RoleAdmin}, "/ngo/profile", false, "/admin/dashboard"},
		{"unknown role", &fakeSession{authenticated: true}, "/donor/dashboard", false, LoginPath},
		{"trailing slash", &fakeSession{authenticated: true, role: auth.RoleAdmin}, "/admin/dashboard/", true, ""},
		{"shared route", &fakeSession{authenticated: true, role: auth.RoleNGO}, "/profile", true, ""},
		{"prefix lookalike", &fakeSession{}, "/donors", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewAuthority(tc.session, nil).Check(context.Background(), tc.path)
			if d.Allowed != tc.allowed || d.Redirect != tc.redirect {
				t.Fatalf("Check(%s) = %+v, want allowed=%v redirect=%q", tc.path, d, tc.allowed, tc.redirect)
			}
		})
	}
}

func TestCheckReadsSessionEveryTime(t *testing.T) {
	s := &fakeSession{authenticated: true, role: auth.RoleDonor}
	a := NewAuthority(s, nil)
	a.Check(context.Background(), "/donor/dashboard")
	s.role = auth.RoleAdmin
	if d := a.Check(context.Background(), "/admin/dashboard"); !d.Allowed {
		t.Fatalf("expected role change to take effect, got %+v", d)
	}
	if s.reads != 2 {
		t.Fatalf("expected 2 session reads, got %d", s.reads)
	}
}

func TestLowercaseAdminTokenGrantsAdminRoutes(t *testing.T) {
	ctx := context.Background()
	restore := obs.SetLogOutput(io.Discard)
	defer restore()

	store, err := session.NewStore(ctx, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	// Cached user claims donor; the token says admin.
	if err := store.SetSession(ctx, authtest.Token("admin", "a1"), &domain.User{ID: "a1", Role: "donor"}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	a := NewAuthority(store, nil)
	if d := a.Check(ctx, "/admin/dashboard"); !d.Allowed {
		t.Fatalf("expected admin access, got %+v", d)
	}
	if d := a.Check(ctx, "/donor/dashboard"); d.Allowed || d.Redirect != "/admin/dashboard" {
		t.Fatalf("expected redirect to admin home, got %+v", d)
	}
}

func TestMiddlewareRedirects(t *testing.T) {
	restore := obs.SetLogOutput(io.Discard)
	defer restore()

	a := NewAuthority(&fakeSession{authenticated: true, role: auth.RoleNGO}, nil)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/ngos", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/ngo/dashboard" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ngo/dashboard", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rr.Code)
	}
}

func TestRouteAllows(t *testing.T) {
	donorOnly := Route{Prefix: "/donor", Roles: []auth.Role{auth.RoleDonor}}
	tests := []struct {
		name  string
		route Route
		role  auth.Role
		want  bool
	}{
		{"public route", Route{Prefix: "/"}, auth.RoleUnknown, true},
		{"listed role", donorOnly, auth.RoleDonor, true},
		{"unlisted role", donorOnly, auth.RoleAdmin, false},
		{"unknown role", donorOnly, auth.RoleUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := routeAllows(tt.route, tt.role); got != tt.want {
				t.Fatalf("routeAllows(%s, %s) = %v, want %v", tt.route.Prefix, tt.role, got, tt.want)
			}
		})
	}
}
