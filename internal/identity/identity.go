// Package identity carries verified claims across the gateway trust boundary.
//
// The gateway verifies the bearer credential once, then re-emits the decoded
// claims as the x-user-data header on the hop toward downstream services.
// Downstream services trust the header only because it arrives on that hop;
// a raw bearer token presented directly to them is never accepted as
// identity. If the gateway-to-service segment cannot be isolated, the header
// should be replaced with a signed internal token; that hardening is not
// implemented here.
package identity

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spec-kit/learning-platform/internal/domain"
)

// HeaderName is the forwarded-identity header attached by the gateway.
const HeaderName = "x-user-data"

// Claims is the verified identity derived from an access token. It is never
// persisted; every request recomputes it from the credential or the header.
type Claims struct {
	SubjectID string      `json:"sub"`
	Role      domain.Role `json:"role"`
	IssuedAt  time.Time   `json:"iat"`
	ExpiresAt time.Time   `json:"exp"`
}

// EncodeHeader serializes claims as URL-encoded JSON for the x-user-data
// header.
func EncodeHeader(c Claims) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode forwarded identity: %w", err)
	}
	return url.QueryEscape(string(raw)), nil
}

// DecodeHeader parses a forwarded-identity header value. Any parse failure
// means the request did not come through the gateway and must be rejected.
func DecodeHeader(value string) (Claims, error) {
	if value == "" {
		return Claims{}, fmt.Errorf("forwarded identity header missing")
	}
	raw, err := url.QueryUnescape(value)
	if err != nil {
		return Claims{}, fmt.Errorf("decode forwarded identity: %w", err)
	}
	var c Claims
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Claims{}, fmt.Errorf("decode forwarded identity: %w", err)
	}
	if c.SubjectID == "" {
		return Claims{}, fmt.Errorf("forwarded identity has no subject")
	}
	return c, nil
}
