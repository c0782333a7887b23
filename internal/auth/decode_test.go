package auth

import (
	"encoding/base64"
	"testing"
)

func tokenWithPayload(payload string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return header + "." + body + ".c2lnbmF0dXJl"
}

func TestDecodeRole(t *testing.T) {
	cases := []struct {
		name  string
		token string
		want  Role
	}{
		{name: "lowercase admin", token: tokenWithPayload(`{"sub":"u1","role":"admin"}`), want: RoleAdmin},
		{name: "mixed case ngo", token: tokenWithPayload(`{"role":"Ngo"}`), want: RoleNGO},
		{name: "padded whitespace donor", token: tokenWithPayload(`{"role":"  DONOR "}`), want: RoleDonor},
		{name: "unknown role", token: tokenWithPayload(`{"role":"superuser"}`), want: RoleUnknown},
		{name: "missing role", token: tokenWithPayload(`{"sub":"u1"}`), want: RoleUnknown},
		{name: "non string role", token: tokenWithPayload(`{"role":7}`), want: RoleUnknown},
		{name: "payload not json", token: tokenWithPayload(`role=admin`), want: RoleUnknown},
		{name: "bad base64", token: "aGVhZGVy.!!!.sig", want: RoleUnknown},
		{name: "two segments", token: "aGVhZGVy.eyJyb2xlIjoiYWRtaW4ifQ", want: RoleUnknown},
		{name: "empty payload", token: "aGVhZGVy..sig", want: RoleUnknown},
		{name: "empty token", token: "", want: RoleUnknown},
		{name: "opaque token", token: "not-a-jwt", want: RoleUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecodeRole(tc.token); got != tc.want {
				t.Fatalf("DecodeRole() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, raw := range []string{"donor", "DONOR", "Donor"} {
		if got := ParseRole(raw); got != RoleDonor {
			t.Fatalf("ParseRole(%q) = %v", raw, got)
		}
	}
	if ParseRole("moderator") != RoleUnknown {
		t.Fatalf("expected unknown for moderator")
	}
	if Role("donor").Valid() {
		t.Fatalf("non-canonical role must not be valid")
	}
	if !RoleAdmin.Valid() || RoleUnknown.Valid() {
		t.Fatalf("unexpected validity result")
	}
}
