// Package registration drives the OTP-gated sign-up flow for donors, NGOs and
// administrators.
package registration

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"donorlink.org/internal/access"
	"donorlink.org/internal/api"
	"donorlink.org/internal/apperr"
	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/ids"
	"donorlink.org/internal/obs"
)

// Step is a registration state.
type Step string

const (
	Collecting        Step = "collecting"
	OtpIssued         Step = "otp_issued"
	Activated         Step = "activated"
	PendingModeration Step = "pending_moderation"
	Rejected          Step = "rejected"
	NeedsLogin        Step = "needs_login"
	Abandoned         Step = "abandoned"
)

const (
	msgOtpSent        = "OTP sent to your email. Please enter it to verify your account."
	msgOtpFormat      = "Please enter the 6-digit code sent to your email."
	msgPendingNGO     = "Your NGO registration is pending admin approval. You can log in once it has been verified."
	msgRejectedNGO    = "Your NGO registration was rejected. Please contact support for details."
	msgVerifiedLogin  = "Your account has been verified. Please log in."
	msgResendThrottle = "Please wait a moment before requesting another code."
)

// Collaborator is the server side of the flow.
type Collaborator interface {
	Register(ctx context.Context, reg domain.PendingRegistration, admin bool) (api.RegisterResult, error)
	VerifyOTP(ctx context.Context, reg domain.PendingRegistration, otp string, admin bool) (api.VerifyResult, error)
}

// Session is the part of the session store the machine writes to.
type Session interface {
	SetSession(ctx context.Context, token string, user *domain.User) error
	Clear(ctx context.Context) error
	Role(ctx context.Context) auth.Role
}

// State is what the UI renders for the current step.
type State struct {
	Step     Step
	Message  string
	Redirect string
}

// Options tune a Machine. Zero values use the defaults.
type Options struct {
	Pending        *PendingStore
	PendingTTL     time.Duration
	ResendInterval time.Duration
	ResendBurst    int
}

// Machine is one registration flow. Calls are strictly sequential; an
// overlapping call fails with apperr.ErrInFlight without touching the network.
type Machine struct {
	api     Collaborator
	session Session
	pending *PendingStore
	resend  *rate.Limiter
	admin   bool

	busy atomic.Bool

	mu     sync.Mutex
	state  State
	flowID string
}

// New creates a donor/NGO registration flow.
func New(collab Collaborator, session Session, opts Options) *Machine {
	return newMachine(collab, session, opts, false)
}

// NewAdmin creates an administrator registration flow, which requires a
// security code.
func NewAdmin(collab Collaborator, session Session, opts Options) *Machine {
	return newMachine(collab, session, opts, true)
}

func newMachine(collab Collaborator, session Session, opts Options, admin bool) *Machine {
	pending := opts.Pending
	if pending == nil {
		pending = NewPendingStore(opts.PendingTTL)
	}
	interval := opts.ResendInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	burst := opts.ResendBurst
	if burst <= 0 {
		burst = 1
	}
	return &Machine{
		api:     collab,
		session: session,
		pending: pending,
		resend:  rate.NewLimiter(rate.Every(interval), burst),
		admin:   admin,
		state:   State{Step: Collecting},
	}
}

// State returns the current step and message.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) acquire() error {
	if !m.busy.CompareAndSwap(false, true) {
		return apperr.ErrInFlight
	}
	return nil
}

func (m *Machine) release() { m.busy.Store(false) }

// transition must be called with m.mu held.
func (m *Machine) transition(step Step, message, redirect string) State {
	if m.state.Step != step {
		obs.RegistrationTransitions.WithLabelValues(string(step)).Inc()
		obs.Logger().Info("registration_event", "event", "transition",
			"flow_id", m.flowID, "from", string(m.state.Step), "to", string(step), "admin", m.admin)
	}
	m.state = State{Step: step, Message: message, Redirect: redirect}
	return m.state
}

func (m *Machine) current() (string, domain.PendingRegistration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.pending.Get(m.flowID)
	return m.flowID, reg, ok
}

// restart forgets the flow after its record expired or was discarded.
func (m *Machine) restart() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowID = ""
	err := apperr.ErrRestartRequired
	return m.transition(Collecting, apperr.UserMessage(err), ""), err
}

// Submit validates reg locally and asks the server to issue an OTP.
func (m *Machine) Submit(ctx context.Context, reg domain.PendingRegistration) (State, error) {
	if err := m.acquire(); err != nil {
		return m.State(), err
	}
	defer m.release()

	if m.admin {
		reg.Role = string(auth.RoleAdmin)
	}
	reg.Email = strings.TrimSpace(reg.Email)
	if err := validate(reg, m.admin); err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.transition(Collecting, apperr.UserMessage(err), ""), err
	}

	res, err := m.api.Register(ctx, reg, m.admin)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		obs.Logger().Warn("registration_event", "event", "submit_failed", "kind", string(apperr.KindOf(err)), "error", err)
		return m.transition(Collecting, apperr.UserMessage(err), ""), err
	}
	if m.flowID != "" {
		m.pending.Delete(m.flowID)
	}
	if !res.RequiresVerification {
		m.flowID = ""
		return m.transition(NeedsLogin, firstNonEmpty(res.Message, msgVerifiedLogin), access.LoginPath), nil
	}
	m.flowID = ids.New()
	m.pending.Put(m.flowID, reg)
	return m.transition(OtpIssued, firstNonEmpty(res.Message, msgOtpSent), ""), nil
}

// Resend asks the server for a fresh code using the cached record. The step
// does not change; a failed resend leaves the previous code usable.
func (m *Machine) Resend(ctx context.Context) (State, error) {
	if err := m.acquire(); err != nil {
		return m.State(), err
	}
	defer m.release()

	_, reg, ok := m.current()
	if !ok {
		return m.restart()
	}
	if !m.resend.Allow() {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.transition(OtpIssued, msgResendThrottle, ""), apperr.New(apperr.KindValidation, msgResendThrottle)
	}

	res, err := m.api.Register(ctx, reg, m.admin)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		return m.transition(OtpIssued, apperr.UserMessage(err), ""), err
	}
	return m.transition(OtpIssued, firstNonEmpty(res.Message, msgOtpSent), ""), nil
}

// Verify submits code. Malformed codes are rejected without a network call.
func (m *Machine) Verify(ctx context.Context, code string) (State, error) {
	if err := m.acquire(); err != nil {
		return m.State(), err
	}
	defer m.release()

	if !validOTP(code) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.transition(m.state.Step, msgOtpFormat, ""), apperr.New(apperr.KindOtpInvalid, msgOtpFormat)
	}
	flowID, reg, ok := m.current()
	if !ok {
		return m.restart()
	}

	res, err := m.api.VerifyOTP(ctx, reg, code, m.admin)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		obs.Logger().Warn("registration_event", "event", "verify_failed", "flow_id", flowID,
			"kind", string(apperr.KindOf(err)), "retryable", apperr.Retryable(err))
		return m.transition(OtpIssued, apperr.UserMessage(err), ""), err
	}
	return m.complete(ctx, flowID, reg, res)
}

func (m *Machine) complete(ctx context.Context, flowID string, reg domain.PendingRegistration, res api.VerifyResult) (State, error) {
	role := auth.ParseRole(reg.Role)
	if res.User != nil && auth.ParseRole(res.User.Role) != auth.RoleUnknown {
		role = auth.ParseRole(res.User.Role)
	}

	if role == auth.RoleNGO && (res.VerificationStatus == domain.VerificationPending || res.VerificationStatus == domain.VerificationRejected) {
		// A token may still have been issued; an unverified NGO must not keep it.
		if err := m.session.Clear(ctx); err != nil {
			obs.Logger().Warn("registration_event", "event", "defensive_clear_failed", "flow_id", flowID, "error", err)
		}
		m.discard(flowID)
		m.mu.Lock()
		defer m.mu.Unlock()
		if res.VerificationStatus == domain.VerificationRejected {
			return m.transition(Rejected, msgRejectedNGO, access.LoginPath), nil
		}
		return m.transition(PendingModeration, msgPendingNGO, access.LoginPath), nil
	}

	if res.Token != "" {
		user := res.User
		if user == nil {
			user = &domain.User{Name: reg.Name, Email: reg.Email, Role: reg.Role, ContactInfo: reg.ContactInfo}
		}
		if err := m.session.SetSession(ctx, res.Token, user); err != nil {
			obs.Logger().Warn("registration_event", "event", "session_rejected", "flow_id", flowID, "error", err)
			m.discard(flowID)
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.transition(NeedsLogin, msgVerifiedLogin, access.LoginPath), nil
		}
		m.discard(flowID)
		home := access.Home(m.session.Role(ctx))
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.transition(Activated, res.Message, home), nil
	}

	m.discard(flowID)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(NeedsLogin, firstNonEmpty(res.Message, msgVerifiedLogin), access.LoginPath), nil
}

func (m *Machine) discard(flowID string) {
	m.pending.Delete(flowID)
	m.mu.Lock()
	if m.flowID == flowID {
		m.flowID = ""
	}
	m.mu.Unlock()
}

// Abandon drops the pending record. A later Resume requires a restart.
func (m *Machine) Abandon() (State, error) {
	if err := m.acquire(); err != nil {
		return m.State(), err
	}
	defer m.release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flowID != "" {
		m.pending.Delete(m.flowID)
		m.flowID = ""
	}
	return m.transition(Abandoned, "", ""), nil
}

// Resume re-enters the OTP step. Without a live pending record the flow is
// reset to Collecting and apperr.ErrRestartRequired is returned.
func (m *Machine) Resume() (State, error) {
	if err := m.acquire(); err != nil {
		return m.State(), err
	}
	defer m.release()

	if _, _, ok := m.current(); !ok {
		return m.restart()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(OtpIssued, m.state.Message, ""), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
