// Package session owns the client credential: the bearer token, the user it
// belongs to and the role trusted for access decisions. The role is always
// derived from the token when the token can be decoded.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/obs"
	"donorlink.org/internal/stream"
)

// ChangeKind describes a session transition.
type ChangeKind string

const (
	Authenticated   ChangeKind = "authenticated"
	Unauthenticated ChangeKind = "unauthenticated"
	RoleCorrected   ChangeKind = "role_corrected"
)

// Change is published to subscribers on every session transition.
type Change struct {
	Kind ChangeKind
	Role auth.Role
	User *domain.User
	// Err is set on RoleCorrected and matches apperr.ErrStaleRole.
	Err error
}

// Store is the single shared holder of credential state.
type Store struct {
	mu        sync.RWMutex
	snap      Snapshot
	persister Persister
	changes   *stream.Stream[Change]
}

// NewStore loads the persisted snapshot. A nil persister keeps the session in memory only.
func NewStore(ctx context.Context, persister Persister) (*Store, error) {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	snap, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if snap.Empty() {
		snap = Snapshot{}
	}
	return &Store{
		snap:      snap,
		persister: persister,
		changes:   stream.New[Change](0),
	}, nil
}

// SetSession installs a new credential. The prior session is left untouched
// when the input is rejected.
func (s *Store) SetSession(ctx context.Context, token string, user *domain.User) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.New(apperr.KindValidation, "token is required")
	}
	if user == nil {
		return apperr.New(apperr.KindInvalidUser, "user is required")
	}
	userRole := auth.ParseRole(user.Role)
	if userRole == auth.RoleUnknown {
		return apperr.New(apperr.KindInvalidUser, fmt.Sprintf("user role %q is not recognized", user.Role))
	}
	role := auth.DecodeRole(token)
	if role == auth.RoleUnknown {
		role = userRole
	}
	next := Snapshot{Token: token, Role: role, User: user.Clone()}

	s.mu.Lock()
	if err := s.persister.Save(ctx, next); err != nil {
		s.mu.Unlock()
		return apperr.Wrap(apperr.KindServer, "could not persist session", err)
	}
	s.snap = next
	s.mu.Unlock()

	obs.Logger().Info("session_event", "event", "authenticated", "user_id", user.ID, "role", role.String())
	s.changes.Publish(Change{Kind: Authenticated, Role: role, User: user.Clone()})
	return nil
}

// Role returns the role trusted for access decisions: the decoded token role,
// falling back to the persisted one. When they disagree the persisted role is
// overwritten with the token role.
func (s *Store) Role(ctx context.Context) auth.Role {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap.Empty() {
		return auth.RoleUnknown
	}
	decoded := auth.DecodeRole(snap.Token)
	if decoded == auth.RoleUnknown {
		return snap.Role
	}
	if decoded == snap.Role {
		return decoded
	}

	s.mu.Lock()
	// The session may have been replaced while unlocked.
	if s.snap.Token != snap.Token {
		current := s.snap
		s.mu.Unlock()
		if current.Empty() {
			return auth.RoleUnknown
		}
		if r := auth.DecodeRole(current.Token); r != auth.RoleUnknown {
			return r
		}
		return current.Role
	}
	stale := s.snap.Role
	s.snap.Role = decoded
	next := s.snap.clone()
	err := s.persister.Save(ctx, next)
	s.mu.Unlock()

	obs.RoleCorrections.Inc()
	staleErr := apperr.Wrap(apperr.KindStaleRole, fmt.Sprintf("cached role %s disagreed with token role %s", stale, decoded), err)
	obs.Logger().Warn("session_event", "event", "role_corrected", "cached_role", stale.String(), "token_role", decoded.String(), "error", staleErr)
	s.changes.Publish(Change{Kind: RoleCorrected, Role: decoded, User: next.User, Err: staleErr})
	return decoded
}

// Clear removes the credential and notifies subscribers.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	hadSession := !s.snap.Empty()
	s.snap = Snapshot{}
	err := s.persister.Clear(ctx)
	s.mu.Unlock()

	if hadSession {
		obs.Logger().Info("session_event", "event", "cleared")
	}
	s.changes.Publish(Change{Kind: Unauthenticated})
	if err != nil {
		return apperr.Wrap(apperr.KindServer, "could not clear persisted session", err)
	}
	return nil
}

// IsAuthenticated reports whether a token is present.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.snap.Empty()
}

// Token returns the current bearer token or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Token
}

// User returns a copy of the current user, or nil.
func (s *Store) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.User.Clone()
}

// Subscribe returns a stream of session changes closed when ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan Change {
	return s.changes.Subscribe(ctx)
}
