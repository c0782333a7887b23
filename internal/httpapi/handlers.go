package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/backend"
	"donorlink.org/internal/obs"
)

// Options tune the HTTP layer.
type Options struct {
	Version        string
	RateBurst      int
	RatePerSecond  int
	MaxBodyBytes   int64
	AllowedOrigins []string

	// Ready reports whether the server accepts traffic. Nil means always ready.
	Ready func(ctx context.Context) error
}

// API is the HTTP surface of the reference backend.
type API struct {
	mux      *http.ServeMux
	svc      *backend.Service
	opts     Options
	upgrader websocket.Upgrader
}

func New(svc *backend.Service, opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:  http.NewServeMux(),
		svc:  svc,
		opts: opts,
	}
	a.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || a.originAllowed(origin)
		},
	}

	// health/ready/metrics
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /api/auth/register", a.handleRegister(false))
	a.mux.HandleFunc("POST /api/auth/verify-otp", a.handleVerify(false))
	a.mux.HandleFunc("POST /api/admin/auth/register", a.handleRegister(true))
	a.mux.HandleFunc("POST /api/admin/auth/verify-otp", a.handleVerify(true))

	a.mux.HandleFunc("GET /api/admin/ngos", a.handleNGOs)
	a.mux.HandleFunc("GET /api/admin/ngos/{id}", a.handleNGO)
	a.mux.HandleFunc("POST /api/admin/ngos/{id}/{action}", a.handleModerate)

	a.mux.HandleFunc("GET /api/dashboard", a.handleDashboard)
	a.mux.HandleFunc("POST /api/contributions", a.handleCreateContribution)
	a.mux.HandleFunc("POST /api/contributions/{id}/status", a.handleContributionStatus)
	a.mux.HandleFunc("POST /api/profile/update", a.handleProfileUpdate)
	a.mux.HandleFunc("POST /api/notifications/{id}/read", a.handleNotificationRead)

	a.mux.HandleFunc("GET /api/realtime", a.handleRealtime)

	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	h = a.CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "donorlink-api",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"success": false,
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps a backend error onto its HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	msg := "internal error"
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidCredentials:
		writeError(w, r, http.StatusUnauthorized, msg)
	case apperr.KindValidation, apperr.KindOtpInvalid, apperr.KindOtpRejected:
		writeError(w, r, http.StatusBadRequest, msg)
	case apperr.KindForbidden:
		writeError(w, r, http.StatusForbidden, msg)
	case apperr.KindInvalidSecurityCode:
		writeError(w, r, http.StatusForbidden, "Invalid security code")
	case apperr.KindNotFound:
		writeError(w, r, http.StatusNotFound, msg)
	case apperr.KindConflict:
		writeError(w, r, http.StatusConflict, msg)
	default:
		obs.Logger().ErrorContext(r.Context(), "request_failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dst)
	if err != nil && err.Error() == "request body is required" {
		return nil
	}
	return err
}
