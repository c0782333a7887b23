package httpapi

import (
	"net/http"
	"strings"

	"donorlink.org/internal/audit"
	"donorlink.org/internal/auth"
)

type moderationRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleNGOs(w http.ResponseWriter, r *http.Request) {
	if _, ok := ensureRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ngos": a.svc.NGOs(r.Context())})
}

func (a *API) handleNGO(w http.ResponseWriter, r *http.Request) {
	if _, ok := ensureRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	ngo, err := a.svc.NGO(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ngo": ngo})
}

func (a *API) handleModerate(w http.ResponseWriter, r *http.Request) {
	if _, ok := ensureRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	var req moderationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, action := r.PathValue("id"), r.PathValue("action")
	msg, err := a.svc.Moderate(r.Context(), id, action, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	fields := map[string]any{"ngo_id": id}
	if req.Reason != "" {
		fields["reason"] = req.Reason
	}
	_ = audit.LogEvent(r.Context(), "ngo."+strings.ReplaceAll(action, "-", "_"), fields)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": msg,
	})
}
