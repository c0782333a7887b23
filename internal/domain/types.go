// Package domain holds the canonical records exchanged between the REST
// collaborator, the session store, the registration flow and the sync channel.
package domain

import "time"

// User is the authenticated account as returned by login or OTP verification.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	ContactInfo string `json:"contactInfo,omitempty"`
	NGOID       string `json:"ngoId,omitempty"`
}

// Clone returns a copy safe to hand out of a locked structure.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}

// NGODetails are the NGO-specific registration and profile fields.
type NGODetails struct {
	RegistrationNumber string `json:"registrationNumber,omitempty"`
	Address            string `json:"address,omitempty"`
	City               string `json:"city,omitempty"`
	State              string `json:"state,omitempty"`
	Pincode            string `json:"pincode,omitempty"`
	ContactPersonName  string `json:"contactPersonName,omitempty"`
	PhoneNumber        string `json:"phoneNumber,omitempty"`
	AboutNGO           string `json:"aboutNgo,omitempty"`
	WebsiteURL         string `json:"websiteUrl,omitempty"`
}

// PendingRegistration is the form data held between OTP issue and verification.
// It is the only place the cleartext password lives on the client and is never
// written to durable storage.
type PendingRegistration struct {
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Password     string     `json:"password"`
	Role         string     `json:"role"`
	ContactInfo  string     `json:"contactInfo,omitempty"`
	SecurityCode string     `json:"securityCode,omitempty"`
	NGO          NGODetails `json:"ngo"`
}

// VerificationStatus is the admin moderation state of an NGO.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// NGO is the server-owned NGO entity. Blocking is independent of verification.
type NGO struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"userId,omitempty"`
	Name                 string             `json:"name"`
	Email                string             `json:"email,omitempty"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	IsBlocked            bool               `json:"isBlocked"`
	RejectionReason      string             `json:"rejection_reason,omitempty"`
	Profile              NGODetails         `json:"profile"`
	PendingProfileUpdate *NGODetails        `json:"pendingProfileUpdate,omitempty"`
}

// ContributionStatus is the server-side contribution workflow state.
type ContributionStatus string

const (
	ContributionPending     ContributionStatus = "PENDING"
	ContributionAccepted    ContributionStatus = "ACCEPTED"
	ContributionNotReceived ContributionStatus = "NOT_RECEIVED"
	ContributionRejected    ContributionStatus = "REJECTED"
	ContributionCompleted   ContributionStatus = "COMPLETED"
)

// Rank orders statuses along the server workflow. Unknown statuses rank lowest.
func (s ContributionStatus) Rank() int {
	switch s {
	case ContributionPending:
		return 1
	case ContributionAccepted:
		return 2
	case ContributionRejected, ContributionNotReceived:
		return 3
	case ContributionCompleted:
		return 4
	default:
		return 0
	}
}

// Contribution is a donor pledge to an NGO.
type Contribution struct {
	ID        string             `json:"id"`
	DonorID   string             `json:"donorId,omitempty"`
	NGOID     string             `json:"ngoId,omitempty"`
	Title     string             `json:"title,omitempty"`
	Status    ContributionStatus `json:"status"`
	UpdatedAt time.Time          `json:"updatedAt,omitzero"`
}

// Notification is a user-facing message created by the server.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats are the aggregate dashboard counters for one scope (donor, ngo, admin).
type Stats struct {
	Scope     string           `json:"scope"`
	Counters  map[string]int64 `json:"counters"`
	UpdatedAt time.Time        `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy.
func (s *Stats) Clone() *Stats {
	if s == nil {
		return nil
	}
	out := *s
	out.Counters = make(map[string]int64, len(s.Counters))
	for k, v := range s.Counters {
		out.Counters[k] = v
	}
	return &out
}

// Dashboard is the full state of one view as returned by a poll.
type Dashboard struct {
	Contributions []Contribution `json:"contributions"`
	Notifications []Notification `json:"notifications"`
	Stats         *Stats         `json:"stats,omitempty"`
	Profile       *NGO           `json:"profile,omitempty"`
}
