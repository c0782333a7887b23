package backend

import (
	"context"
	"fmt"
	"strings"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/domain"
)

var (
	errNGONotFound          = apperr.New(apperr.KindNotFound, "NGO not found")
	errNotificationNotFound = apperr.New(apperr.KindNotFound, "Notification not found")
	errContributionNotFound = apperr.New(apperr.KindNotFound, "Contribution not found")
)

// Action names accepted by Moderate.
const (
	ActionApprove       = "approve"
	ActionReject        = "reject"
	ActionBlock         = "block"
	ActionUnblock       = "unblock"
	ActionApproveUpdate = "approve-update"
	ActionRejectUpdate  = "reject-update"
)

func cloneNGO(n *domain.NGO) domain.NGO {
	out := *n
	if n.PendingProfileUpdate != nil {
		p := *n.PendingProfileUpdate
		out.PendingProfileUpdate = &p
	}
	return out
}

// NGOs lists NGOs in registration order.
func (s *Service) NGOs(ctx context.Context) []domain.NGO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.NGO, 0, len(s.ngoOrder))
	for _, id := range s.ngoOrder {
		out = append(out, cloneNGO(s.ngos[id]))
	}
	return out
}

// NGO returns one NGO.
func (s *Service) NGO(ctx context.Context, id string) (domain.NGO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.ngos[id]
	if !ok {
		return domain.NGO{}, errNGONotFound
	}
	return cloneNGO(n), nil
}

// Moderate applies an admin action. An action whose effect is already in
// place fails with a conflict.
func (s *Service) Moderate(ctx context.Context, id, action, reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	switch action {
	case ActionReject, ActionBlock, ActionUnblock, ActionRejectUpdate:
		if reason == "" {
			return "", apperr.New(apperr.KindValidation, "A reason is required")
		}
	case ActionApprove, ActionApproveUpdate:
	default:
		return "", apperr.New(apperr.KindNotFound, fmt.Sprintf("unknown action %q", action))
	}

	s.mu.Lock()
	n, ok := s.ngos[id]
	if !ok {
		s.mu.Unlock()
		return "", errNGONotFound
	}
	var (
		message, kind, note string
		conflict            bool
	)
	switch action {
	case ActionApprove:
		conflict = n.VerificationStatus == domain.VerificationVerified
		n.VerificationStatus = domain.VerificationVerified
		n.RejectionReason = ""
		message, kind, note = "NGO approved", "ngo_approved", "Your NGO has been verified. You can now log in."
	case ActionReject:
		conflict = n.VerificationStatus == domain.VerificationRejected
		n.VerificationStatus = domain.VerificationRejected
		n.RejectionReason = reason
		message, kind, note = "NGO rejected", "ngo_rejected", "Your NGO registration was rejected: "+reason
	case ActionBlock:
		conflict = n.IsBlocked
		n.IsBlocked = true
		message, kind, note = "NGO blocked", "ngo_blocked", "Your NGO account has been blocked: "+reason
	case ActionUnblock:
		conflict = !n.IsBlocked
		n.IsBlocked = false
		message, kind, note = "NGO unblocked", "ngo_unblocked", "Your NGO account has been unblocked: "+reason
	case ActionApproveUpdate:
		conflict = n.PendingProfileUpdate == nil
		if !conflict {
			n.Profile = *n.PendingProfileUpdate
			n.PendingProfileUpdate = nil
		}
		message, kind, note = "Profile update approved", "profile_update_approved", "Your profile update has been approved."
	case ActionRejectUpdate:
		conflict = n.PendingProfileUpdate == nil
		n.PendingProfileUpdate = nil
		message, kind, note = "Profile update rejected", "profile_update_rejected", "Your profile update was rejected: "+reason
	}
	userID := n.UserID
	s.mu.Unlock()

	if conflict {
		return "", apperr.New(apperr.KindConflict, "Action already applied")
	}
	s.notify(userID, kind, note)
	s.pushAdminStats()
	return message, nil
}

// ProposeProfileUpdate records a profile change awaiting admin approval.
func (s *Service) ProposeProfileUpdate(ctx context.Context, userID string, details domain.NGODetails) (domain.NGO, error) {
	user, ok := s.User(userID)
	if !ok || user.NGOID == "" {
		return domain.NGO{}, errNGONotFound
	}
	s.mu.Lock()
	n, ok := s.ngos[user.NGOID]
	if !ok {
		s.mu.Unlock()
		return domain.NGO{}, errNGONotFound
	}
	if n.VerificationStatus != domain.VerificationVerified {
		s.mu.Unlock()
		return domain.NGO{}, apperr.New(apperr.KindForbidden, "Only verified NGOs can update their profile")
	}
	d := details
	n.PendingProfileUpdate = &d
	out := cloneNGO(n)
	s.mu.Unlock()

	s.notifyAdmins("profile_update_requested", fmt.Sprintf("%s requested a profile update", out.Name))
	return out, nil
}
