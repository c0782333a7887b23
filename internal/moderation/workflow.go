// Package moderation lets an administrator verify, reject, block and unblock
// NGOs and decide on their proposed profile updates.
package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"donorlink.org/internal/api"
	"donorlink.org/internal/apperr"
	"donorlink.org/internal/audit"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/obs"
)

// Collaborator is the admin side of the REST collaborator.
type Collaborator interface {
	NGO(ctx context.Context, id string) (domain.NGO, error)
	NGOs(ctx context.Context) ([]domain.NGO, error)
	Moderate(ctx context.Context, ngoID string, action api.Action, reason string) (string, error)
}

// Result is the NGO state after an action.
type Result struct {
	NGO     domain.NGO
	Applied bool
	Message string
}

// Workflow serializes actions per NGO. A second action on an NGO whose first
// action has not returned fails with apperr.ErrInFlight.
type Workflow struct {
	api Collaborator

	mu       sync.Mutex
	inFlight map[string]api.Action
}

func New(collab Collaborator) *Workflow {
	return &Workflow{api: collab, inFlight: make(map[string]api.Action)}
}

func (w *Workflow) ApproveNGO(ctx context.Context, id string) (Result, error) {
	return w.apply(ctx, id, api.ActionApprove, "")
}

func (w *Workflow) RejectNGO(ctx context.Context, id, reason string) (Result, error) {
	return w.apply(ctx, id, api.ActionReject, reason)
}

func (w *Workflow) BlockNGO(ctx context.Context, id, reason string) (Result, error) {
	return w.apply(ctx, id, api.ActionBlock, reason)
}

func (w *Workflow) UnblockNGO(ctx context.Context, id, reason string) (Result, error) {
	return w.apply(ctx, id, api.ActionUnblock, reason)
}

func (w *Workflow) ApproveProfileUpdate(ctx context.Context, id string) (Result, error) {
	return w.apply(ctx, id, api.ActionApproveUpdate, "")
}

func (w *Workflow) RejectProfileUpdate(ctx context.Context, id, reason string) (Result, error) {
	return w.apply(ctx, id, api.ActionRejectUpdate, reason)
}

// Queue lists NGOs awaiting a decision: unverified registrations and verified
// NGOs with a proposed profile update.
func (w *Workflow) Queue(ctx context.Context) ([]domain.NGO, error) {
	all, err := w.api.NGOs(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.NGO
	for _, n := range all {
		if n.VerificationStatus == domain.VerificationPending || n.PendingProfileUpdate != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func requiresReason(action api.Action) bool {
	switch action {
	case api.ActionReject, api.ActionBlock, api.ActionUnblock, api.ActionRejectUpdate:
		return true
	}
	return false
}

// inPlace reports whether ngo already shows the effect of action.
func inPlace(action api.Action, ngo domain.NGO) bool {
	switch action {
	case api.ActionApprove:
		return ngo.VerificationStatus == domain.VerificationVerified
	case api.ActionReject:
		return ngo.VerificationStatus == domain.VerificationRejected
	case api.ActionBlock:
		return ngo.IsBlocked
	case api.ActionUnblock:
		return !ngo.IsBlocked
	case api.ActionApproveUpdate, api.ActionRejectUpdate:
		return ngo.PendingProfileUpdate == nil
	}
	return false
}

func (w *Workflow) acquire(id string, action api.Action) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inFlight[id]; busy {
		return false
	}
	w.inFlight[id] = action
	return true
}

func (w *Workflow) release(id string) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
}

func (w *Workflow) apply(ctx context.Context, id string, action api.Action, reason string) (Result, error) {
	id = strings.TrimSpace(id)
	reason = strings.TrimSpace(reason)
	if id == "" {
		return Result{}, apperr.New(apperr.KindValidation, "NGO id is required")
	}
	if requiresReason(action) && reason == "" {
		return Result{}, apperr.New(apperr.KindValidation, "Please provide a reason")
	}
	if !w.acquire(id, action) {
		return Result{}, apperr.ErrInFlight
	}
	defer w.release(id)

	log := obs.Logger().With("ngo_id", id, "action", string(action))

	current, err := w.api.NGO(ctx, id)
	if err != nil {
		obs.ModerationActions.WithLabelValues(string(action), "failed").Inc()
		return Result{}, err
	}
	if inPlace(action, current) {
		obs.ModerationActions.WithLabelValues(string(action), "noop").Inc()
		log.Info("moderation_event", "event", "already_applied")
		return Result{NGO: current}, nil
	}

	message, err := w.api.Moderate(ctx, id, action, reason)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		log.Info("moderation_event", "event", "conflict_treated_as_applied")
	case err != nil:
		obs.ModerationActions.WithLabelValues(string(action), "failed").Inc()
		log.Warn("moderation_event", "event", "failed", "kind", string(apperr.KindOf(err)), "error", err)
		return Result{}, err
	}

	updated, err := w.api.NGO(ctx, id)
	if err != nil {
		return Result{}, err
	}
	obs.ModerationActions.WithLabelValues(string(action), "applied").Inc()
	fields := map[string]any{"ngo_id": id, "action": string(action)}
	if reason != "" {
		fields["reason"] = reason
	}
	if auditErr := audit.LogEvent(ctx, "ngo."+strings.ReplaceAll(string(action), "-", "_"), fields); auditErr != nil {
		log.Warn("moderation_event", "event", "audit_failed", "error", auditErr)
	}
	return Result{NGO: updated, Applied: true, Message: message}, nil
}
