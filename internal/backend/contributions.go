package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/ids"
	"donorlink.org/internal/realtime"
)

// nextStatuses lists the transitions an NGO may make from each status.
var nextStatuses = map[domain.ContributionStatus][]domain.ContributionStatus{
	domain.ContributionPending:  {domain.ContributionAccepted, domain.ContributionRejected},
	domain.ContributionAccepted: {domain.ContributionCompleted, domain.ContributionNotReceived},
}

// CreateContribution records a donor pledge to a verified, unblocked NGO.
func (s *Service) CreateContribution(ctx context.Context, donorID, ngoID, title string) (domain.Contribution, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Contribution{}, apperr.New(apperr.KindValidation, "Title is required")
	}
	s.mu.Lock()
	n, ok := s.ngos[ngoID]
	if !ok {
		s.mu.Unlock()
		return domain.Contribution{}, errNGONotFound
	}
	if n.VerificationStatus != domain.VerificationVerified || n.IsBlocked {
		s.mu.Unlock()
		return domain.Contribution{}, apperr.New(apperr.KindForbidden, "This NGO is not accepting contributions")
	}
	c := &domain.Contribution{
		ID:        ids.New(),
		DonorID:   donorID,
		NGOID:     ngoID,
		Title:     title,
		Status:    domain.ContributionPending,
		UpdatedAt: time.Now().UTC(),
	}
	s.contributions[c.ID] = c
	s.contribOrder = append(s.contribOrder, c.ID)
	ngoUser := n.UserID
	out := *c
	s.mu.Unlock()

	s.notify(ngoUser, "contribution_created", fmt.Sprintf("New contribution: %s", title))
	s.pushStats(donorID, ngoUser)
	return out, nil
}

// UpdateContributionStatus moves a contribution along the workflow. Only the
// receiving NGO may do so.
func (s *Service) UpdateContributionStatus(ctx context.Context, ngoUserID, id string, status domain.ContributionStatus) (domain.Contribution, error) {
	user, ok := s.User(ngoUserID)
	if !ok || user.NGOID == "" {
		return domain.Contribution{}, apperr.New(apperr.KindForbidden, "Only NGOs can update contributions")
	}
	s.mu.Lock()
	c, ok := s.contributions[id]
	if !ok || c.NGOID != user.NGOID {
		s.mu.Unlock()
		return domain.Contribution{}, errContributionNotFound
	}
	if c.Status == status {
		s.mu.Unlock()
		return domain.Contribution{}, apperr.New(apperr.KindConflict, "Contribution already has this status")
	}
	allowed := false
	for _, next := range nextStatuses[c.Status] {
		if next == status {
			allowed = true
		}
	}
	if !allowed {
		s.mu.Unlock()
		return domain.Contribution{}, apperr.New(apperr.KindValidation, fmt.Sprintf("Cannot move from %s to %s", c.Status, status))
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	out := *c
	s.mu.Unlock()

	ev := realtime.ContributionStatusUpdated{Contribution: out}
	s.pushTo(out.DonorID, ev)
	s.pushTo(ngoUserID, ev)
	s.notify(out.DonorID, "contribution_status", fmt.Sprintf("Your contribution %q is now %s", out.Title, out.Status))
	s.pushStats(out.DonorID, ngoUserID)
	return out, nil
}

func (s *Service) pushStats(donorID, ngoUserID string) {
	s.pushTo(donorID, realtime.StatsUpdated{Stats: s.userStats(donorID)})
	s.pushTo(ngoUserID, realtime.StatsUpdated{Stats: s.userStats(ngoUserID)})
	s.pushAdminStats()
}
