package domain

import "time"

// TokenPair is the access/refresh credential pair issued on login and rotated
// on refresh. Clients own exactly one pair at a time; a terminal refresh
// failure destroys it.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AccessExpiry time.Time `json:"accessExpiry"`
}

// Expired reports whether the access token is past its expiry at the given
// instant.
func (p TokenPair) Expired(now time.Time) bool {
	return !p.AccessExpiry.After(now)
}
