package httpapi

import (
	"net/http"
	"strings"

	"donorlink.org/internal/audit"
	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
)

type createContributionRequest struct {
	NGOID string `json:"ngoId"`
	Title string `json:"title"`
}

type contributionStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := ensureRole(w, r)
	if !ok {
		return
	}
	d, err := a.svc.Dashboard(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleCreateContribution(w http.ResponseWriter, r *http.Request) {
	p, ok := ensureRole(w, r, auth.RoleDonor)
	if !ok {
		return
	}
	var req createContributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.svc.CreateContribution(r.Context(), p.UserID, req.NGOID, req.Title)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "contribution.create", map[string]any{
		"contribution_id": c.ID,
		"ngo_id":          c.NGOID,
	})
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleContributionStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := ensureRole(w, r, auth.RoleNGO)
	if !ok {
		return
	}
	var req contributionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := domain.ContributionStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	c, err := a.svc.UpdateContributionStatus(r.Context(), p.UserID, r.PathValue("id"), status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "contribution.status", map[string]any{
		"contribution_id": c.ID,
		"status":          string(c.Status),
	})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := ensureRole(w, r, auth.RoleNGO)
	if !ok {
		return
	}
	var req domain.NGODetails
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ngo, err := a.svc.ProposeProfileUpdate(r.Context(), p.UserID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Profile update submitted for approval",
		"ngo":     ngo,
	})
}

func (a *API) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	p, ok := ensureRole(w, r)
	if !ok {
		return
	}
	if err := a.svc.MarkNotificationRead(r.Context(), p.UserID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
