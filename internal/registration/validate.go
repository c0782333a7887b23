package registration

import (
	"strings"

	"donorlink.org/internal/apperr"
	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
)

// validate checks reg locally so obviously incomplete submissions never reach
// the network.
func validate(reg domain.PendingRegistration, admin bool) error {
	var missing []string
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	require("name", reg.Name)
	require("email", reg.Email)
	require("password", reg.Password)

	role := auth.ParseRole(reg.Role)
	switch {
	case admin:
		require("securityCode", reg.SecurityCode)
	case role == auth.RoleDonor:
		require("contactInfo", reg.ContactInfo)
	case role == auth.RoleNGO:
		require("registrationNumber", reg.NGO.RegistrationNumber)
		require("address", reg.NGO.Address)
		require("city", reg.NGO.City)
		require("state", reg.NGO.State)
		require("pincode", reg.NGO.Pincode)
		require("contactPersonName", reg.NGO.ContactPersonName)
		require("phoneNumber", reg.NGO.PhoneNumber)
	default:
		return apperr.New(apperr.KindValidation, "Please choose whether you are registering as a donor or an NGO")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindValidation, "Please fill in all required fields: "+strings.Join(missing, ", "))
	}
	if !validEmail(reg.Email) {
		return apperr.New(apperr.KindValidation, "Please enter a valid email address")
	}
	if err := auth.ValidatePassword(reg.Password); err != nil {
		return apperr.New(apperr.KindValidation, "Password must be at least 6 characters")
	}
	return nil
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	local, domainPart, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domainPart, "@") {
		return false
	}
	dot := strings.LastIndexByte(domainPart, '.')
	return dot > 0 && dot < len(domainPart)-1 && !strings.ContainsAny(email, " \t")
}

// validOTP reports whether code is exactly six ASCII digits.
func validOTP(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
