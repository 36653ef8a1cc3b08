package models

import "time"

// Roles a challenge participant can register with
const (
	RoleRunner   = "runner"
	RoleCyclist  = "cyclist"
	RoleCombined = "combined"
)

// User represents a challenge participant linked to a Strava athlete
type User struct {
	ID           int64
	StravaID     string
	Name         string
	Role         string
	Avatar       *string // Use pointer for nullable fields
	Points       float64
	RunDistance  float64 // km
	RideDistance float64 // km
	Streak       int
	Credential   Credential
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func ValidRole(role string) bool {
	switch role {
	case RoleRunner, RoleCyclist, RoleCombined:
		return true
	}
	return false
}
