package backend

import (
	"context"
	"time"

	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/ids"
	"donorlink.org/internal/obs"
	"donorlink.org/internal/realtime"
	"donorlink.org/internal/stream"
)

func (s *Service) userStream(userID string) *stream.Stream[realtime.Envelope] {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	st, ok := s.push[userID]
	if !ok {
		st = stream.New[realtime.Envelope](32)
		s.push[userID] = st
	}
	return st
}

// Subscribe returns the push feed of one user, closed when ctx ends.
func (s *Service) Subscribe(ctx context.Context, userID string) <-chan realtime.Envelope {
	return s.userStream(userID).Subscribe(ctx)
}

func (s *Service) pushTo(userID string, ev realtime.Event) {
	env, err := realtime.Encode(ev)
	if err != nil {
		obs.Logger().Error("push_event", "event", "encode_failed", "name", ev.Name(), "error", err)
		return
	}
	delivered := s.userStream(userID).Publish(env)
	obs.Logger().Debug("push_event", "event", "published", "name", env.Event, "user_id", userID, "delivered", delivered)
}

// notify stores a notification for userID and pushes it.
func (s *Service) notify(userID, kind, message string) {
	n := domain.Notification{
		ID:        ids.New(),
		Type:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.notifications[userID] = append(s.notifications[userID], n)
	s.mu.Unlock()
	s.pushTo(userID, realtime.NotificationNew{Notification: n})
}

func (s *Service) adminIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, rec := range s.users {
		if auth.ParseRole(rec.user.Role) == auth.RoleAdmin {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) notifyAdmins(kind, message string) {
	for _, id := range s.adminIDs() {
		s.notify(id, kind, message)
	}
	s.pushAdminStats()
}

func (s *Service) pushAdminStats() {
	stats := s.adminStats()
	for _, id := range s.adminIDs() {
		s.pushTo(id, realtime.StatsUpdated{Stats: stats})
	}
}

// MarkNotificationRead flips one notification of userID to read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.notifications[userID]
	for i := range list {
		if list[i].ID == id {
			list[i].IsRead = true
			return nil
		}
	}
	return errNotificationNotFound
}

// Listeners reports the open push subscriptions of userID.
func (s *Service) Listeners(userID string) int {
	return s.userStream(userID).Subscribers()
}
