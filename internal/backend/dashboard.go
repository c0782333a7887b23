package backend

import (
	"context"
	"slices"
	"time"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
)

// Dashboard returns the full view of the caller.
func (s *Service) Dashboard(ctx context.Context, userID string) (domain.Dashboard, error) {
	user, ok := s.User(userID)
	if !ok {
		return domain.Dashboard{}, apperr.New(apperr.KindForbidden, "Unknown user")
	}
	var d domain.Dashboard
	s.mu.RLock()
	for _, id := range s.contribOrder {
		c := s.contributions[id]
		if c.DonorID == userID || (user.NGOID != "" && c.NGOID == user.NGOID) {
			d.Contributions = append(d.Contributions, *c)
		}
	}
	d.Notifications = slices.Clone(s.notifications[userID])
	if user.NGOID != "" {
		if n, ok := s.ngos[user.NGOID]; ok {
			p := cloneNGO(n)
			d.Profile = &p
		}
	}
	s.mu.RUnlock()

	if auth.ParseRole(user.Role) == auth.RoleAdmin {
		d.Stats = s.adminStats()
	} else {
		d.Stats = s.userStats(userID)
	}
	return d, nil
}

func (s *Service) userStats(userID string) *domain.Stats {
	user, _ := s.User(userID)
	scope := "donor"
	if user.NGOID != "" {
		scope = "ngo"
	}
	counters := map[string]int64{"total": 0}
	s.mu.RLock()
	for _, c := range s.contributions {
		if c.DonorID == userID || (user.NGOID != "" && c.NGOID == user.NGOID) {
			counters["total"]++
			counters[string(c.Status)]++
		}
	}
	s.mu.RUnlock()
	return &domain.Stats{Scope: scope, Counters: counters, UpdatedAt: time.Now().UTC()}
}

func (s *Service) adminStats() *domain.Stats {
	counters := map[string]int64{"pendingNgos": 0, "verifiedNgos": 0, "blockedNgos": 0, "pendingUpdates": 0}
	s.mu.RLock()
	for _, n := range s.ngos {
		switch n.VerificationStatus {
		case domain.VerificationPending:
			counters["pendingNgos"]++
		case domain.VerificationVerified:
			counters["verifiedNgos"]++
		}
		if n.IsBlocked {
			counters["blockedNgos"]++
		}
		if n.PendingProfileUpdate != nil {
			counters["pendingUpdates"]++
		}
	}
	counters["contributions"] = int64(len(s.contributions))
	s.mu.RUnlock()
	return &domain.Stats{Scope: "admin", Counters: counters, UpdatedAt: time.Now().UTC()}
}
