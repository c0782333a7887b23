// Package api is the client for the donorlink REST collaborator. Responses are
// converted to the canonical records in internal/domain before they leave the
// package; failures are mapped onto the apperr taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/domain"
	"donorlink.org/internal/ids"
)

var tracer = otel.Tracer("donorlink/api")

const (
	DefaultTimeout   = 15 * time.Second
	maxResponseBytes = 4 << 20
)

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// Client calls the REST collaborator.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every call, including body reads.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithTokenSource attaches a bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a client for baseURL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	c := &Client{base: u, http: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RealtimeURL returns the websocket endpoint derived from the base URL.
func (c *Client) RealtimeURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/realtime"
	return u.String()
}

// Token returns the bearer token the client currently sends.
func (c *Client) Token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

// LoginResult is the response of a successful login.
type LoginResult struct {
	Token string
	User  *domain.User
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	r, err := c.do(ctx, opLogin, http.MethodPost, "/api/auth/login", body)
	if err != nil {
		return LoginResult{}, err
	}
	res := LoginResult{Token: r.str("token", "accessToken")}
	if u, ok := r.object("user"); ok {
		res.User = decodeUser(u)
	}
	if res.Token == "" {
		return LoginResult{}, apperr.New(apperr.KindServer, "login response carried no token")
	}
	return res, nil
}

// RegisterResult is the response to a registration submission.
type RegisterResult struct {
	RequiresVerification bool
	Message              string
}

// Register asks the collaborator to issue an OTP for reg. Admin registrations
// go to the admin endpoint and carry the security code.
func (c *Client) Register(ctx context.Context, reg domain.PendingRegistration, admin bool) (RegisterResult, error) {
	o, path := opRegister, "/api/auth/register"
	if admin {
		o, path = opAdminRegister, "/api/admin/auth/register"
	}
	r, err := c.do(ctx, o, http.MethodPost, path, registrationBody(reg, admin))
	if err != nil {
		return RegisterResult{}, err
	}
	res := RegisterResult{Message: r.str("message"), RequiresVerification: true}
	if _, ok := r.raw("requiresVerification"); ok {
		res.RequiresVerification = r.boolean("requiresVerification")
	}
	return res, nil
}

// VerifyResult is the response to OTP verification.
type VerifyResult struct {
	Token              string
	User               *domain.User
	VerificationStatus domain.VerificationStatus
	Message            string
}

// VerifyOTP submits the code along with the registration record.
func (c *Client) VerifyOTP(ctx context.Context, reg domain.PendingRegistration, otp string, admin bool) (VerifyResult, error) {
	o, path := opVerify, "/api/auth/verify-otp"
	if admin {
		o, path = opAdminVerify, "/api/admin/auth/verify-otp"
	}
	body := registrationBody(reg, admin)
	body["otp"] = otp
	r, err := c.do(ctx, o, http.MethodPost, path, body)
	if err != nil {
		return VerifyResult{}, err
	}
	res := VerifyResult{
		Token:   r.str("token", "accessToken"),
		Message: r.str("message"),
	}
	status := r.str("verification_status", "verificationStatus")
	if u, ok := r.object("user"); ok {
		res.User = decodeUser(u)
		if status == "" {
			status = u.str("verification_status", "verificationStatus")
		}
	}
	if n, ok := r.object("ngo"); ok && status == "" {
		status = n.str("verification_status", "verificationStatus")
	}
	res.VerificationStatus = domain.VerificationStatus(strings.ToUpper(status))
	return res, nil
}

// Action is an admin moderation action on an NGO.
type Action string

const (
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionBlock         Action = "block"
	ActionUnblock       Action = "unblock"
	ActionApproveUpdate Action = "approve-update"
	ActionRejectUpdate  Action = "reject-update"
)

// Moderate applies action to the NGO. A non-empty reason is sent along.
func (c *Client) Moderate(ctx context.Context, ngoID string, action Action, reason string) (string, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	path := "/api/admin/ngos/" + url.PathEscape(ngoID) + "/" + string(action)
	r, err := c.do(ctx, opModerate, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	if _, ok := r.raw("success"); ok && !r.boolean("success") {
		return "", apperr.New(apperr.KindServer, r.str("message", "error"))
	}
	return r.str("message"), nil
}

// NGO reads one NGO.
func (c *Client) NGO(ctx context.Context, id string) (domain.NGO, error) {
	r, err := c.do(ctx, opRead, http.MethodGet, "/api/admin/ngos/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.NGO{}, err
	}
	if inner, ok := r.object("ngo"); ok {
		r = inner
	}
	return decodeNGO(r), nil
}

// NGOs lists NGOs visible to the admin.
func (c *Client) NGOs(ctx context.Context) ([]domain.NGO, error) {
	raw, err := c.doRaw(ctx, opRead, http.MethodGet, "/api/admin/ngos", nil)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		r, ok := parseRecord(raw)
		if !ok {
			return nil, apperr.Wrap(apperr.KindServer, "malformed response", err)
		}
		items = r.list("ngos", "data")
	}
	out := make([]domain.NGO, 0, len(items))
	for _, item := range items {
		if ngo, ok := DecodeNGO(item); ok && ngo.ID != "" {
			out = append(out, ngo)
		}
	}
	return out, nil
}

// Dashboard fetches the full state of the caller's dashboard view.
func (c *Client) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	raw, err := c.doRaw(ctx, opRead, http.MethodGet, "/api/dashboard", nil)
	if err != nil {
		return domain.Dashboard{}, err
	}
	d, ok := DecodeDashboard(raw)
	if !ok {
		return domain.Dashboard{}, apperr.New(apperr.KindServer, "malformed dashboard response")
	}
	return d, nil
}

func registrationBody(reg domain.PendingRegistration, admin bool) map[string]string {
	body := map[string]string{
		"name":     reg.Name,
		"email":    reg.Email,
		"password": reg.Password,
		"role":     strings.ToLower(reg.Role),
	}
	if reg.ContactInfo != "" {
		body["contactInfo"] = reg.ContactInfo
	}
	if admin {
		body["securityCode"] = reg.SecurityCode
	}
	ngo := map[string]string{
		"registrationNumber": reg.NGO.RegistrationNumber,
		"address":            reg.NGO.Address,
		"city":               reg.NGO.City,
		"state":              reg.NGO.State,
		"pincode":            reg.NGO.Pincode,
		"contactPersonName":  reg.NGO.ContactPersonName,
		"phoneNumber":        reg.NGO.PhoneNumber,
		"aboutNgo":           reg.NGO.AboutNGO,
		"websiteUrl":         reg.NGO.WebsiteURL,
	}
	for k, v := range ngo {
		if v != "" {
			body[k] = v
		}
	}
	return body
}

func (c *Client) do(ctx context.Context, o op, method, path string, body any) (record, error) {
	raw, err := c.doRaw(ctx, o, method, path, body)
	if err != nil {
		return nil, err
	}
	r, ok := parseRecord(raw)
	if !ok {
		return record{}, nil
	}
	return r, nil
}

func (c *Client) doRaw(ctx context.Context, o op, method, path string, body any) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "API.Client."+string(o))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", ids.New())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", ids.IdempotencyKey())
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, transportError(err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		return nil, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if r, ok := parseRecord(data); ok {
			msg = r.str("message", "error")
		}
		mapped := mapStatus(o, resp.StatusCode, msg)
		span.RecordError(mapped)
		span.SetStatus(codes.Error, string(apperr.KindOf(mapped)))
		return nil, mapped
	}
	return data, nil
}
