package models

import "time"

// Credential is the Strava OAuth triple owned by a user.
// ExpiresAt is in epoch seconds, as Strava returns it.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// IsExpired compares in milliseconds so every caller agrees on the boundary.
func (c Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt*1000 < now.UnixMilli()
}

func (c Credential) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}
