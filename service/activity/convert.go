package activity

import (
	"strconv"

	"github.com/wyzwanie/challenge/models"
)

// Strava activity types we score. Everything else is ignored.
var supportedTypes = map[string]string{
	"Run":  models.ActivityRun,
	"Ride": models.ActivityRide,
}

// Convert maps a Strava activity onto a stored one. ok is false for types
// the challenge does not count.
func Convert(raw models.RawActivity) (activity *models.Activity, ok bool) {
	kind, ok := supportedTypes[raw.Type]
	if !ok {
		return nil, false
	}

	km := raw.Distance / 1000

	activity = &models.Activity{
		StravaID:  strconv.FormatInt(raw.ID, 10),
		Type:      kind,
		Name:      raw.Name,
		Distance:  km,
		Date:      raw.StartDate,
		HighFives: 0,
	}

	// zero distance or zero moving time leaves pace and speed at 0
	if km > 0 && raw.MovingTime > 0 {
		seconds := float64(raw.MovingTime)
		switch kind {
		case models.ActivityRun:
			activity.Pace = (seconds / 60) / km
		case models.ActivityRide:
			activity.Speed = km / (seconds / 3600)
		}
	}

	return activity, true
}

// Totals is the fold of a user's activities into their derived stats
type Totals struct {
	Points       float64
	RunDistance  float64
	RideDistance float64
}

func Sum(activities []*models.Activity) Totals {
	var t Totals
	for _, a := range activities {
		t.Points += a.Points()
		switch a.Type {
		case models.ActivityRun:
			t.RunDistance += a.Distance
		case models.ActivityRide:
			t.RideDistance += a.Distance
		}
	}
	return t
}
