package auth

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var segmentParser = jwt.NewParser()

// DecodeRole extracts the role claim from a bearer token without verifying its
// signature. Verification happens server side on every authenticated request;
// the decoded role only drives what the client shows before the next round-trip.
// Any decoding failure yields RoleUnknown.
func DecodeRole(token string) Role {
	segments := strings.Split(strings.TrimSpace(token), ".")
	if len(segments) != 3 || segments[1] == "" {
		return RoleUnknown
	}
	payload, err := segmentParser.DecodeSegment(segments[1])
	if err != nil {
		return RoleUnknown
	}
	var claims struct {
		Role any `json:"role"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return RoleUnknown
	}
	raw, ok := claims.Role.(string)
	if !ok {
		return RoleUnknown
	}
	return ParseRole(raw)
}
