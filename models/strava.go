package models

import (
	"encoding/json"
	"time"
)

// RawActivity is the subset of a Strava SummaryActivity we read
type RawActivity struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`        // "Run", "Ride", "Swim", ...
	Distance   float64   `json:"distance"`    // meters
	MovingTime int64     `json:"moving_time"` // seconds
	StartDate  time.Time `json:"start_date"`

	// Raw is the activity exactly as Strava returned it
	Raw json.RawMessage `json:"-"`
}

// TokenResponse is the normalized result of a code exchange or refresh.
// AthleteID is only set on code exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	AthleteID    string `json:"-"`
}

func (t *TokenResponse) Credential() Credential {
	return Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
	}
}
