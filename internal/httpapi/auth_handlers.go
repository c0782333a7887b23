package httpapi

import (
	"net/http"

	"donorlink.org/internal/audit"
	"donorlink.org/internal/domain"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// registrationRequest is the flat form posted by register and verify-otp.
type registrationRequest struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	Password           string `json:"password"`
	Role               string `json:"role"`
	ContactInfo        string `json:"contactInfo"`
	SecurityCode       string `json:"securityCode"`
	OTP                string `json:"otp"`
	RegistrationNumber string `json:"registrationNumber"`
	Address            string `json:"address"`
	City               string `json:"city"`
	State              string `json:"state"`
	Pincode            string `json:"pincode"`
	ContactPersonName  string `json:"contactPersonName"`
	PhoneNumber        string `json:"phoneNumber"`
	AboutNGO           string `json:"aboutNgo"`
	WebsiteURL         string `json:"websiteUrl"`
}

func (req registrationRequest) pending() domain.PendingRegistration {
	return domain.PendingRegistration{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		Role:         req.Role,
		ContactInfo:  req.ContactInfo,
		SecurityCode: req.SecurityCode,
		NGO: domain.NGODetails{
			RegistrationNumber: req.RegistrationNumber,
			Address:            req.Address,
			City:               req.City,
			State:              req.State,
			Pincode:            req.Pincode,
			ContactPersonName:  req.ContactPersonName,
			PhoneNumber:        req.PhoneNumber,
			AboutNGO:           req.AboutNGO,
			WebsiteURL:         req.WebsiteURL,
		},
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, user, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ctx := audit.WithActor(r.Context(), user.ID)
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"role": user.Role})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user":    user,
	})
}

func (a *API) handleRegister(admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		msg, err := a.svc.Register(r.Context(), req.pending(), admin)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":              true,
			"requiresVerification": true,
			"message":              msg,
		})
	}
}

func (a *API) handleVerify(admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		res, err := a.svc.VerifyOTP(r.Context(), req.Email, req.OTP, req.SecurityCode, admin)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		ctx := audit.WithActor(r.Context(), res.User.ID)
		_ = audit.LogEvent(ctx, "auth.account.created", map[string]any{
			"role":  res.User.Role,
			"admin": admin,
		})
		body := map[string]any{
			"success": true,
			"message": res.Message,
			"user":    res.User,
		}
		if res.Token != "" {
			body["token"] = res.Token
		}
		if res.VerificationStatus != "" {
			body["verification_status"] = res.VerificationStatus
		}
		writeJSON(w, http.StatusOK, body)
	}
}
