// Package backend is an in-memory implementation of the donorlink REST and
// push contract. It backs cmd/api for local development and end-to-end tests
// of the client packages.
package backend

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/ids"
	"donorlink.org/internal/mail"
	"donorlink.org/internal/obs"
	"donorlink.org/internal/realtime"
	"donorlink.org/internal/stream"
)

// Options configure a Service.
type Options struct {
	TokenTTL          time.Duration
	OTPTTL            time.Duration
	AdminSecurityCode string
	Mailer            mail.Sender
}

type userRecord struct {
	user         domain.User
	passwordHash string
}

type otpRecord struct {
	code  string
	reg   domain.PendingRegistration
	admin bool
}

// Service holds all state in memory.
type Service struct {
	opts   Options
	mailer mail.Sender
	otps   *cache.Cache

	mu            sync.RWMutex
	users         map[string]*userRecord
	byEmail       map[string]string
	ngos          map[string]*domain.NGO
	ngoOrder      []string
	contributions map[string]*domain.Contribution
	contribOrder  []string
	notifications map[string][]domain.Notification

	pushMu sync.Mutex
	push   map[string]*stream.Stream[realtime.Envelope]
}

func New(opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 10 * time.Minute
	}
	mailer := opts.Mailer
	if mailer == nil {
		mailer = mail.NewNoopSender()
	}
	return &Service{
		opts:          opts,
		mailer:        mailer,
		otps:          cache.New(opts.OTPTTL, opts.OTPTTL),
		users:         make(map[string]*userRecord),
		byEmail:       make(map[string]string),
		ngos:          make(map[string]*domain.NGO),
		contributions: make(map[string]*domain.Contribution),
		notifications: make(map[string][]domain.Notification),
		push:          make(map[string]*stream.Stream[realtime.Envelope]),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Service) checkSecurityCode(code string) error {
	if s.opts.AdminSecurityCode == "" {
		return apperr.New(apperr.KindForbidden, "Admin registration is disabled")
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(s.opts.AdminSecurityCode)) != 1 {
		return apperr.New(apperr.KindInvalidSecurityCode, "Invalid security code")
	}
	return nil
}

func validateRegistration(reg domain.PendingRegistration, admin bool) (auth.Role, error) {
	role := auth.ParseRole(reg.Role)
	if admin {
		role = auth.RoleAdmin
	} else if role != auth.RoleDonor && role != auth.RoleNGO {
		return auth.RoleUnknown, apperr.New(apperr.KindValidation, "Role must be donor or ngo")
	}
	if strings.TrimSpace(reg.Name) == "" || !strings.Contains(reg.Email, "@") {
		return auth.RoleUnknown, apperr.New(apperr.KindValidation, "Name and a valid email are required")
	}
	if err := auth.ValidatePassword(reg.Password); err != nil {
		return auth.RoleUnknown, apperr.New(apperr.KindValidation, "Password must be at least 6 characters")
	}
	if role == auth.RoleNGO && strings.TrimSpace(reg.NGO.RegistrationNumber) == "" {
		return auth.RoleUnknown, apperr.New(apperr.KindValidation, "Registration number is required")
	}
	return role, nil
}

// Register validates reg, issues a one-time code and emails it.
func (s *Service) Register(ctx context.Context, reg domain.PendingRegistration, admin bool) (string, error) {
	if admin {
		if err := s.checkSecurityCode(reg.SecurityCode); err != nil {
			return "", err
		}
	}
	role, err := validateRegistration(reg, admin)
	if err != nil {
		return "", err
	}
	email := normalizeEmail(reg.Email)
	s.mu.RLock()
	_, exists := s.byEmail[email]
	s.mu.RUnlock()
	if exists {
		return "", apperr.New(apperr.KindValidation, "An account with this email already exists")
	}

	code, err := generateOTP()
	if err != nil {
		return "", apperr.Wrap(apperr.KindServer, "could not issue code", err)
	}
	reg.Email = email
	reg.Role = string(role)
	s.otps.SetDefault(email, otpRecord{code: code, reg: reg, admin: admin})

	msg := mail.OTPMessage(email, reg.Name, code, s.opts.OTPTTL.String())
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		s.otps.Delete(email)
		return "", apperr.Wrap(apperr.KindServer, "Could not send the verification email", err)
	}
	obs.Logger().Info("auth_event", "event", "otp_issued", "role", role.String(), "admin", admin)
	return "OTP sent to your email", nil
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	Token              string
	User               domain.User
	VerificationStatus domain.VerificationStatus
	Message            string
}

// VerifyOTP checks code and creates the account. NGO accounts start unverified
// and receive no token.
func (s *Service) VerifyOTP(ctx context.Context, email, code string, securityCode string, admin bool) (VerifyResult, error) {
	email = normalizeEmail(email)
	v, ok := s.otps.Get(email)
	if !ok {
		return VerifyResult{}, apperr.New(apperr.KindOtpRejected, "OTP expired or not found. Please register again.")
	}
	rec := v.(otpRecord)
	if rec.admin != admin {
		return VerifyResult{}, apperr.New(apperr.KindOtpRejected, "OTP expired or not found. Please register again.")
	}
	if subtle.ConstantTimeCompare([]byte(rec.code), []byte(code)) != 1 {
		return VerifyResult{}, apperr.New(apperr.KindOtpRejected, "Invalid OTP")
	}
	if admin {
		if err := s.checkSecurityCode(securityCode); err != nil {
			return VerifyResult{}, err
		}
	}
	hash, err := auth.HashPassword(rec.reg.Password)
	if err != nil {
		return VerifyResult{}, apperr.Wrap(apperr.KindServer, "could not create account", err)
	}

	role := auth.ParseRole(rec.reg.Role)
	user := domain.User{
		ID:          ids.New(),
		Name:        rec.reg.Name,
		Email:       email,
		Role:        role.Wire(),
		ContactInfo: rec.reg.ContactInfo,
	}

	s.mu.Lock()
	if _, exists := s.byEmail[email]; exists {
		s.mu.Unlock()
		return VerifyResult{}, apperr.New(apperr.KindConflict, "Account already verified")
	}
	var ngo *domain.NGO
	if role == auth.RoleNGO {
		ngo = &domain.NGO{
			ID:                 ids.New(),
			UserID:             user.ID,
			Name:               rec.reg.Name,
			Email:              email,
			VerificationStatus: domain.VerificationPending,
			Profile:            rec.reg.NGO,
		}
		user.NGOID = ngo.ID
		s.ngos[ngo.ID] = ngo
		s.ngoOrder = append(s.ngoOrder, ngo.ID)
	}
	s.users[user.ID] = &userRecord{user: user, passwordHash: hash}
	s.byEmail[email] = user.ID
	s.mu.Unlock()
	s.otps.Delete(email)

	obs.Logger().Info("auth_event", "event", "account_created", "user_id", user.ID, "role", role.String())

	if ngo != nil {
		s.notifyAdmins("ngo_registered", fmt.Sprintf("New NGO registration: %s", ngo.Name))
		return VerifyResult{
			User:               user,
			VerificationStatus: domain.VerificationPending,
			Message:            "Email verified. Your NGO registration is pending admin approval.",
		}, nil
	}
	token, err := auth.GenerateToken(user.ID, role, s.opts.TokenTTL)
	if err != nil {
		return VerifyResult{}, apperr.Wrap(apperr.KindServer, "could not issue token", err)
	}
	return VerifyResult{Token: token, User: user, Message: "Registration successful"}, nil
}

// Login checks credentials. Unverified and blocked NGOs are refused.
func (s *Service) Login(ctx context.Context, email, password string) (string, domain.User, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	id, ok := s.byEmail[email]
	var rec userRecord
	if ok {
		rec = *s.users[id]
	}
	var ngo domain.NGO
	if ok && rec.user.NGOID != "" {
		ngo = *s.ngos[rec.user.NGOID]
	}
	s.mu.RUnlock()

	if !ok || auth.VerifyPassword(rec.passwordHash, password) != nil {
		obs.Logger().Warn("auth_event", "event", "login_failure")
		return "", domain.User{}, apperr.New(apperr.KindInvalidCredentials, "Invalid email or password")
	}
	role := auth.ParseRole(rec.user.Role)
	if role == auth.RoleNGO {
		switch {
		case ngo.IsBlocked:
			return "", domain.User{}, apperr.New(apperr.KindForbidden, "Your NGO account has been blocked")
		case ngo.VerificationStatus == domain.VerificationPending:
			return "", domain.User{}, apperr.New(apperr.KindForbidden, "Your NGO registration is pending admin approval")
		case ngo.VerificationStatus == domain.VerificationRejected:
			return "", domain.User{}, apperr.New(apperr.KindForbidden, "Your NGO registration was rejected")
		}
	}
	token, err := auth.GenerateToken(rec.user.ID, role, s.opts.TokenTTL)
	if err != nil {
		return "", domain.User{}, apperr.Wrap(apperr.KindServer, "could not issue token", err)
	}
	obs.Logger().Info("auth_event", "event", "login_success", "user_id", rec.user.ID, "role", role.String())
	return token, rec.user, nil
}

// User returns an account by id.
func (s *Service) User(id string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[id]
	if !ok {
		return domain.User{}, false
	}
	return rec.user, true
}
