package api

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"donorlink.org/internal/domain"
)

// record is a loosely typed JSON object. The collaborator spells several
// fields more than one way; every alias is resolved here and nowhere else.
type record map[string]json.RawMessage

func parseRecord(raw json.RawMessage) (record, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil || r == nil {
		return nil, false
	}
	return r, true
}

func (r record) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && len(v) > 0 && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (r record) str(keys ...string) string {
	v, ok := r.raw(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	// Numeric ids are common on older endpoints.
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func (r record) boolean(keys ...string) bool {
	v, ok := r.raw(keys...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		parsed, _ := strconv.ParseBool(s)
		return parsed
	}
	return false
}

func (r record) timestamp(keys ...string) time.Time {
	v, ok := r.raw(keys...)
	if !ok {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(v, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

func (r record) object(keys ...string) (record, bool) {
	v, ok := r.raw(keys...)
	if !ok {
		return nil, false
	}
	return parseRecord(v)
}

func (r record) list(keys ...string) []json.RawMessage {
	v, ok := r.raw(keys...)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil
	}
	return items
}

// DecodeUser resolves a user payload.
func DecodeUser(raw json.RawMessage) (*domain.User, bool) {
	r, ok := parseRecord(raw)
	if !ok {
		return nil, false
	}
	return decodeUser(r), true
}

func decodeUser(r record) *domain.User {
	return &domain.User{
		ID:          r.str("id", "_id"),
		Name:        r.str("name"),
		Email:       r.str("email"),
		Role:        r.str("role"),
		ContactInfo: r.str("contactInfo", "phoneNumber", "phone"),
		NGOID:       r.str("ngoId", "ngo_id"),
	}
}

func decodeNGODetails(r record) domain.NGODetails {
	return domain.NGODetails{
		RegistrationNumber: r.str("registrationNumber", "registration_number"),
		Address:            r.str("address"),
		City:               r.str("city"),
		State:              r.str("state"),
		Pincode:            r.str("pincode"),
		ContactPersonName:  r.str("contactPersonName", "contact_person_name"),
		PhoneNumber:        r.str("phoneNumber", "contactInfo", "phone"),
		AboutNGO:           r.str("aboutNgo", "about_ngo"),
		WebsiteURL:         r.str("websiteUrl", "website_url"),
	}
}

// DecodeNGO resolves an NGO payload. Profile fields may be nested under
// "profile" or sit flat on the object.
func DecodeNGO(raw json.RawMessage) (domain.NGO, bool) {
	r, ok := parseRecord(raw)
	if !ok {
		return domain.NGO{}, false
	}
	return decodeNGO(r), true
}

func decodeNGO(r record) domain.NGO {
	profile := decodeNGODetails(r)
	if nested, ok := r.object("profile"); ok {
		profile = decodeNGODetails(nested)
	}
	ngo := domain.NGO{
		ID:                 r.str("id", "_id"),
		UserID:             r.str("userId", "user_id"),
		Name:               r.str("name", "ngoName"),
		Email:              r.str("email"),
		VerificationStatus: domain.VerificationStatus(strings.ToUpper(r.str("verification_status", "verificationStatus"))),
		IsBlocked:          r.boolean("isBlocked", "is_blocked"),
		RejectionReason:    r.str("rejection_reason", "rejectionReason"),
		Profile:            profile,
	}
	if pending, ok := r.object("pendingProfileUpdate", "pending_profile_update"); ok {
		details := decodeNGODetails(pending)
		ngo.PendingProfileUpdate = &details
	}
	return ngo
}

// DecodeContribution resolves a contribution payload. Events sometimes carry
// the id as contributionId.
func DecodeContribution(raw json.RawMessage) (domain.Contribution, bool) {
	r, ok := parseRecord(raw)
	if !ok {
		return domain.Contribution{}, false
	}
	c := domain.Contribution{
		ID:        r.str("id", "_id", "contributionId"),
		DonorID:   r.str("donorId", "donor_id"),
		NGOID:     r.str("ngoId", "ngo_id"),
		Title:     r.str("title"),
		Status:    domain.ContributionStatus(strings.ToUpper(r.str("status"))),
		UpdatedAt: r.timestamp("updatedAt", "updated_at"),
	}
	return c, c.ID != ""
}

// DecodeNotification resolves a notification payload.
func DecodeNotification(raw json.RawMessage) (domain.Notification, bool) {
	r, ok := parseRecord(raw)
	if !ok {
		return domain.Notification{}, false
	}
	n := domain.Notification{
		ID:        r.str("id", "_id"),
		Type:      r.str("type"),
		Message:   r.str("message"),
		IsRead:    r.boolean("isRead", "read"),
		CreatedAt: r.timestamp("createdAt", "created_at"),
	}
	return n, n.ID != ""
}

// DecodeStats resolves a stats payload. Counters may be nested or flat.
func DecodeStats(raw json.RawMessage) (*domain.Stats, bool) {
	r, ok := parseRecord(raw)
	if !ok {
		return nil, false
	}
	s := &domain.Stats{
		Scope:     r.str("scope"),
		Counters:  make(map[string]int64),
		UpdatedAt: r.timestamp("updatedAt", "updated_at"),
	}
	src := r
	if nested, ok := r.object("counters"); ok {
		src = nested
	}
	for k, v := range src {
		switch k {
		case "scope", "updatedAt", "updated_at":
			continue
		}
		var n int64
		if err := json.Unmarshal(v, &n); err == nil {
			s.Counters[k] = n
		}
	}
	return s, true
}

// DecodeDashboard resolves a full poll snapshot. Items without an id are dropped.
func DecodeDashboard(raw json.RawMessage) (domain.Dashboard, bool) {
	r, ok := parseRecord(raw)
	if !ok {
		return domain.Dashboard{}, false
	}
	var d domain.Dashboard
	for _, item := range r.list("contributions") {
		if c, ok := DecodeContribution(item); ok {
			d.Contributions = append(d.Contributions, c)
		}
	}
	for _, item := range r.list("notifications") {
		if n, ok := DecodeNotification(item); ok {
			d.Notifications = append(d.Notifications, n)
		}
	}
	if v, ok := r.raw("stats"); ok {
		d.Stats, _ = DecodeStats(v)
	}
	if v, ok := r.raw("profile"); ok {
		if ngo, ok := DecodeNGO(v); ok {
			d.Profile = &ngo
		}
	}
	return d, true
}
