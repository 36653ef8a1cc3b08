package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wyzwanie/challenge/models"
)

const activityColumns = `id, user_id, strava_id, type, name, distance, date, pace, speed, high_fives, created_at`

func scanActivity(row rowScanner) (*models.Activity, error) {
	a := &models.Activity{}
	err := row.Scan(
		&a.ID, &a.UserID, &a.StravaID, &a.Type, &a.Name, &a.Distance,
		&a.Date, &a.Pace, &a.Speed, &a.HighFives, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ReplaceUserActivities swaps a user's whole activity set and writes the
// user's derived stats in a single transaction. IDs and CreatedAt of the
// passed activities are filled in.
func (db *DB) ReplaceUserActivities(ctx context.Context, user *models.User, activities []*models.Activity) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE user_id = ?`, user.ID); err != nil {
		return fmt.Errorf("delete activities for user %d: %w", user.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO activities (user_id, strava_id, type, name, distance, date, pace, speed, high_fives, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, a := range activities {
		a.UserID = user.ID
		a.CreatedAt = now
		result, err := stmt.ExecContext(ctx,
			a.UserID, a.StravaID, a.Type, a.Name, a.Distance, a.Date.UTC(),
			a.Pace, a.Speed, a.HighFives, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert activity %s: %w", a.StravaID, err)
		}
		if a.ID, err = result.LastInsertId(); err != nil {
			return err
		}
	}

	user.UpdatedAt = now
	result, err := tx.ExecContext(ctx, `
	UPDATE users
	SET points = ?, run_distance = ?, ride_distance = ?, streak = ?, updated_at = ?
	WHERE id = ?`,
		user.Points, user.RunDistance, user.RideDistance, user.Streak, user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("update stats for user %d: %w", user.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", user.ID, ErrNotFound)
	}

	return tx.Commit()
}

// GetUserActivities returns a user's stored activities, newest first
func (db *DB) GetUserActivities(ctx context.Context, userID int64) ([]*models.Activity, error) {
	return db.queryActivities(ctx, `SELECT `+activityColumns+` FROM activities WHERE user_id = ? ORDER BY date DESC, id`, userID)
}

// GetAllActivities returns every stored activity in insertion order
func (db *DB) GetAllActivities(ctx context.Context) ([]*models.Activity, error) {
	return db.queryActivities(ctx, `SELECT `+activityColumns+` FROM activities ORDER BY id`)
}

func (db *DB) queryActivities(ctx context.Context, query string, args ...any) ([]*models.Activity, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}

	return activities, rows.Err()
}

// IncrementHighFives adds one high five to an activity and returns it
func (db *DB) IncrementHighFives(ctx context.Context, activityID int64) (*models.Activity, error) {
	result, err := db.ExecContext(ctx, `UPDATE activities SET high_fives = high_fives + 1 WHERE id = ?`, activityID)
	if err != nil {
		return nil, fmt.Errorf("high five activity %d: %w", activityID, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("activity %d: %w", activityID, ErrNotFound)
	}

	return db.GetActivityByID(ctx, activityID)
}

// GetActivityByID retrieves a single activity
func (db *DB) GetActivityByID(ctx context.Context, activityID int64) (*models.Activity, error) {
	a, err := scanActivity(db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = ?`, activityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("activity %d: %w", activityID, ErrNotFound)
	}
	return a, err
}
