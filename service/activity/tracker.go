package activity

import (
	"context"
	"time"
)

// StartSyncTracker re-syncs every linked user each interval until ctx is done.
// window bounds how far back each fetch reaches, zero leaves it to Strava.
func (s *Service) StartSyncTracker(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sync tracker started", "interval", interval, "window", window)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync tracker stopped")
			return
		case <-ticker.C:
			s.SyncAll(ctx, window)
		}
	}
}

// SyncAll runs one ingestion cycle per user holding a Strava credential and
// returns how many succeeded. One user's failure does not stop the others.
func (s *Service) SyncAll(ctx context.Context, window time.Duration) int {
	users, err := s.store.GetAllUsers(ctx)
	if err != nil {
		s.logger.Error("listing users for sync", "err", err)
		return 0
	}

	var after int64
	if window > 0 {
		after = s.now().Add(-window).Unix()
	}

	synced := 0
	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		if user.Credential.IsZero() {
			continue
		}

		if _, _, err := s.Sync(ctx, user.ID, after, 0); err != nil {
			s.logger.Warn("sync failed", "user", user.ID, "err", err)
			continue
		}
		synced++
	}

	s.logger.Info("sync pass finished", "users", len(users), "synced", synced)
	return synced
}
