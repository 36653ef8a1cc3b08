// Package leaderboard shapes stored users and activities for the public API.
package leaderboard

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wyzwanie/challenge/models"
)

// IDPrefix namespaces every ID we expose so clients never see raw storage keys
const IDPrefix = "strava-"

var ErrInvalidID = errors.New("invalid activity id")

// Participant is a user as shown on the leaderboard
type Participant struct {
	ID           string  `json:"id"`
	StravaID     string  `json:"stravaId"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	Avatar       *string `json:"avatar"`
	Points       float64 `json:"points"`
	RunDistance  float64 `json:"runDistance"`
	RideDistance float64 `json:"rideDistance"`
	Streak       int     `json:"streak"`
}

// FeedItem is an activity as shown in the feed
type FeedItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Distance  float64   `json:"distance"`
	Date      time.Time `json:"date"`
	Pace      float64   `json:"pace"`
	Speed     float64   `json:"speed"`
	HighFives int       `json:"highFives"`
}

func UserID(u *models.User) string {
	return IDPrefix + u.StravaID
}

func ActivityID(a *models.Activity) string {
	return IDPrefix + strconv.FormatInt(a.ID, 10)
}

// ParseActivityID accepts an exposed activity ID, with or without the prefix
func ParseActivityID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, IDPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

func NewParticipant(u *models.User) Participant {
	return Participant{
		ID:           UserID(u),
		StravaID:     u.StravaID,
		Name:         u.Name,
		Role:         u.Role,
		Avatar:       u.Avatar,
		Points:       u.Points,
		RunDistance:  u.RunDistance,
		RideDistance: u.RideDistance,
		Streak:       u.Streak,
	}
}

// Participants orders users by points, highest first. Ties keep input order.
func Participants(users []*models.User) []Participant {
	sorted := make([]*models.User, len(users))
	copy(sorted, users)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Points > sorted[j].Points
	})

	participants := make([]Participant, len(sorted))
	for i, u := range sorted {
		participants[i] = NewParticipant(u)
	}
	return participants
}

// NewFeedItem projects one activity. owner may be nil if the user is gone.
func NewFeedItem(a *models.Activity, owner *models.User) FeedItem {
	item := FeedItem{
		ID:        ActivityID(a),
		Type:      a.Type,
		Name:      a.Name,
		Distance:  a.Distance,
		Date:      a.Date,
		Pace:      a.Pace,
		Speed:     a.Speed,
		HighFives: a.HighFives,
	}
	if owner != nil {
		item.UserID = UserID(owner)
		item.UserName = owner.Name
	}
	return item
}

// Feed orders activities newest first, joining each with its owner from
// users (keyed by internal user ID).
func Feed(activities []*models.Activity, users map[int64]*models.User) []FeedItem {
	sorted := make([]*models.Activity, len(activities))
	copy(sorted, activities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	items := make([]FeedItem, len(sorted))
	for i, a := range sorted {
		items[i] = NewFeedItem(a, users[a.UserID])
	}
	return items
}
