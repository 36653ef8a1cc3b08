package models

import "time"

// Internal activity types
const (
	ActivityRun  = "run"
	ActivityRide = "ride"
)

// Activity is a run or ride mirrored from Strava
type Activity struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	StravaID  string    `json:"stravaId"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Distance  float64   `json:"distance"` // km
	Date      time.Time `json:"date"`
	Pace      float64   `json:"pace"`  // min/km, runs only
	Speed     float64   `json:"speed"` // km/h, rides only
	HighFives int       `json:"highFives"`
	CreatedAt time.Time `json:"createdAt"`
}

// Points is the score this activity contributes: 2 per km run, 1 per km ridden.
func (a *Activity) Points() float64 {
	switch a.Type {
	case ActivityRun:
		return a.Distance * 2
	case ActivityRide:
		return a.Distance
	}
	return 0
}
