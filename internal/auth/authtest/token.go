// Package authtest builds bearer tokens for tests that only need the payload to
// be decodable, not verifiable.
package authtest

import (
	"encoding/base64"
	"encoding/json"
)

// Token returns an unsigned three-segment token whose payload carries role and sub.
func Token(role, sub string) string {
	payload, _ := json.Marshal(map[string]any{"role": role, "sub": sub})
	return Raw(string(payload))
}

// Raw wraps an arbitrary payload string into a token.
func Raw(payload string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return header + "." + body + ".c2lnbmF0dXJl"
}
