package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/auth"
	"donorlink.org/internal/auth/authtest"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/obs"
)

func newTestStore(t *testing.T) (*Store, *MemoryPersister) {
	t.Helper()
	restore := obs.SetLogOutput(io.Discard)
	t.Cleanup(restore)
	p := NewMemoryPersister()
	s, err := NewStore(context.Background(), p)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, p
}

func TestRoleMatchesDecodedToken(t *testing.T) {
	ctx := context.Background()
	for _, raw := range []string{"donor", "NGO", "Admin"} {
		s, _ := newTestStore(t)
		token := authtest.Token(raw, "u1")
		if err := s.SetSession(ctx, token, &domain.User{ID: "u1", Role: raw}); err != nil {
			t.Fatalf("SetSession(%s): %v", raw, err)
		}
		if got, want := s.Role(ctx), auth.DecodeRole(token); got != want {
			t.Fatalf("Role() = %v, want %v", got, want)
		}
	}
}

func TestSetSessionTokenRoleWinsOverUserRole(t *testing.T) {
	ctx := context.Background()
	s, p := newTestStore(t)
	if err := s.SetSession(ctx, authtest.Token("admin", "u1"), &domain.User{ID: "u1", Role: "donor"}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	snap, _ := p.Load(ctx)
	if snap.Role != auth.RoleAdmin {
		t.Fatalf("persisted role = %v, want ADMIN", snap.Role)
	}
}

func TestSetSessionOpaqueTokenFallsBackToUserRole(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if err := s.SetSession(ctx, "opaque-token", &domain.User{ID: "u1", Role: "ngo"}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if got := s.Role(ctx); got != auth.RoleNGO {
		t.Fatalf("Role() = %v, want NGO", got)
	}
}

func TestSetSessionInvalidUserLeavesPriorSession(t *testing.T) {
	ctx := context.Background()
	s, p := newTestStore(t)
	prior := authtest.Token("donor", "u1")
	if err := s.SetSession(ctx, prior, &domain.User{ID: "u1", Role: "donor"}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	cases := []*domain.User{nil, {ID: "u2", Role: "superuser"}, {ID: "u3"}}
	for _, user := range cases {
		err := s.SetSession(ctx, authtest.Token("admin", "u2"), user)
		if !errors.Is(err, apperr.ErrInvalidUser) {
			t.Fatalf("SetSession(%v) err = %v, want InvalidUser", user, err)
		}
	}
	if s.Token() != prior || s.Role(ctx) != auth.RoleDonor || s.User().ID != "u1" {
		t.Fatalf("prior session was modified: token=%q role=%v", s.Token(), s.Role(ctx))
	}
	snap, _ := p.Load(ctx)
	if snap.Token != prior {
		t.Fatalf("persisted session was modified")
	}
}

func TestSetSessionRequiresToken(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.SetSession(context.Background(), " ", &domain.User{ID: "u1", Role: "donor"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if s.IsAuthenticated() {
		t.Fatal("expected no session")
	}
}

func TestRoleCorrectsStalePersistedRole(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	token := authtest.Token("admin", "u1")
	_ = p.Save(ctx, Snapshot{Token: token, Role: auth.RoleDonor, User: &domain.User{ID: "u1", Role: "donor"}})

	restore := obs.SetLogOutput(io.Discard)
	defer restore()
	s, err := NewStore(ctx, p)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	changes := s.Subscribe(sub)

	if got := s.Role(ctx); got != auth.RoleAdmin {
		t.Fatalf("Role() = %v, want ADMIN", got)
	}
	snap, _ := p.Load(ctx)
	if snap.Role != auth.RoleAdmin {
		t.Fatalf("persisted role not corrected: %v", snap.Role)
	}
	select {
	case c := <-changes:
		if c.Kind != RoleCorrected || c.Role != auth.RoleAdmin {
			t.Fatalf("unexpected change %+v", c)
		}
		if !errors.Is(c.Err, apperr.ErrStaleRole) {
			t.Fatalf("role correction error = %v, want stale role", c.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected role correction change")
	}
}

func TestNewStoreNormalizesSnapshotWithoutToken(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	_ = p.Save(ctx, Snapshot{Role: auth.RoleAdmin, User: &domain.User{ID: "ghost", Role: "admin"}})
	s, err := NewStore(ctx, p)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.IsAuthenticated() || s.Role(ctx) != auth.RoleUnknown || s.User() != nil {
		t.Fatal("expected empty session")
	}
}

func TestClearPublishesUnauthenticated(t *testing.T) {
	ctx := context.Background()
	s, p := newTestStore(t)
	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	changes := s.Subscribe(sub)

	if err := s.SetSession(ctx, authtest.Token("ngo", "u1"), &domain.User{ID: "u1", Role: "ngo"}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.IsAuthenticated() || s.Role(ctx) != auth.RoleUnknown {
		t.Fatal("expected session cleared")
	}
	snap, _ := p.Load(ctx)
	if !snap.Empty() {
		t.Fatal("expected persisted session cleared")
	}

	want := []ChangeKind{Authenticated, Unauthenticated}
	for _, kind := range want {
		select {
		case c := <-changes:
			if c.Kind != kind {
				t.Fatalf("change = %v, want %v", c.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

type failingPersister struct{ MemoryPersister }

func (f *failingPersister) Save(context.Context, Snapshot) error { return errors.New("disk full") }

func TestSetSessionPersistFailure(t *testing.T) {
	restore := obs.SetLogOutput(io.Discard)
	defer restore()
	s, err := NewStore(context.Background(), &failingPersister{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	err = s.SetSession(context.Background(), authtest.Token("donor", "u1"), &domain.User{ID: "u1", Role: "donor"})
	if apperr.KindOf(err) != apperr.KindServer {
		t.Fatalf("err = %v, want server kind", err)
	}
	if s.IsAuthenticated() {
		t.Fatal("session must not be installed when persistence fails")
	}
}
