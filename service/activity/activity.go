package activity

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wyzwanie/challenge/models"
	"github.com/wyzwanie/challenge/service/streak"
)

// Store is the persistence the ingestion cycle needs
type Store interface {
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	GetAllUsers(ctx context.Context) ([]*models.User, error)
	GetCredential(ctx context.Context, userID int64) (models.Credential, error)
	PutCredential(ctx context.Context, userID int64, cred models.Credential) error
	ReplaceUserActivities(ctx context.Context, user *models.User, activities []*models.Activity) error
}

// Provider is the part of the Strava client the ingestion cycle calls
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error)
	FetchActivities(ctx context.Context, accessToken string, after, before int64) ([]models.RawActivity, error)
}

// Service mirrors Strava activities into the store and keeps each user's
// points, distances and streak in step with them.
type Service struct {
	store    Store
	provider Provider
	location *time.Location
	now      func() time.Time
	locks    *userLocks
	logger   *log.Logger
}

// NewActivityService creates the ingestion service. Streak days are counted in loc.
func NewActivityService(store Store, provider Provider, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		store:    store,
		provider: provider,
		location: loc,
		now:      time.Now,
		locks:    newUserLocks(),
		logger:   log.NewWithOptions(os.Stdout, log.Options{Prefix: "activity", ReportTimestamp: true}),
	}
}

// EnsureFreshCredential returns a usable credential for the user, refreshing
// and persisting it first when it has expired.
func (s *Service) EnsureFreshCredential(ctx context.Context, userID int64) (models.Credential, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	cred, err := s.store.GetCredential(ctx, userID)
	if err != nil {
		return models.Credential{}, err
	}

	if !cred.IsExpired(s.now()) {
		return cred, nil
	}

	s.logger.Info("refreshing expired strava token", "user", userID, "expires_at", cred.ExpiresAt)
	token, err := s.provider.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return models.Credential{}, fmt.Errorf("refresh token for user %d: %w", userID, err)
	}

	cred = token.Credential()
	if err := s.store.PutCredential(ctx, userID, cred); err != nil {
		return models.Credential{}, fmt.Errorf("store refreshed token for user %d: %w", userID, err)
	}

	return cred, nil
}

// Sync runs a full ingestion cycle for a user and returns what Strava sent
// alongside the updated user.
func (s *Service) Sync(ctx context.Context, userID int64, after, before int64) ([]models.RawActivity, *models.User, error) {
	cred, err := s.EnsureFreshCredential(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	raws, err := s.provider.FetchActivities(ctx, cred.AccessToken, after, before)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch activities for user %d: %w", userID, err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	user, _, err = s.Ingest(ctx, user, raws)
	if err != nil {
		return nil, nil, err
	}

	return raws, user, nil
}

// Ingest replaces the user's stored activities with the supported ones in
// raws and recomputes the user's stats from scratch. An empty batch wipes
// the user's activities and zeroes the stats. High fives start over at 0.
func (s *Service) Ingest(ctx context.Context, user *models.User, raws []models.RawActivity) (*models.User, []*models.Activity, error) {
	activities := make([]*models.Activity, 0, len(raws))
	for _, raw := range raws {
		a, ok := Convert(raw)
		if !ok {
			continue
		}
		activities = append(activities, a)
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	updated := *user
	totals := Sum(activities)
	updated.Points = totals.Points
	updated.RunDistance = totals.RunDistance
	updated.RideDistance = totals.RideDistance

	dates := make([]time.Time, len(activities))
	for i, a := range activities {
		dates[i] = a.Date
	}
	updated.Streak = streak.Calculate(dates, s.now(), s.location)

	if err := s.store.ReplaceUserActivities(ctx, &updated, activities); err != nil {
		return nil, nil, fmt.Errorf("replace activities for user %d: %w", user.ID, err)
	}

	s.logger.Info("ingested activities",
		"user", user.ID,
		"received", len(raws),
		"stored", len(activities),
		"points", updated.Points,
		"streak", updated.Streak)

	return &updated, activities, nil
}
