package db

import (
	"context"
	"fmt"
	"time"

	"github.com/wyzwanie/challenge/models"
)

// GetCredential returns the stored Strava credential for a user. A user that
// never linked Strava has no credential and gets ErrNotFound.
func (db *DB) GetCredential(ctx context.Context, userID int64) (models.Credential, error) {
	user, err := db.GetUserByID(ctx, userID)
	if err != nil {
		return models.Credential{}, err
	}
	if user.Credential.IsZero() {
		return models.Credential{}, fmt.Errorf("credential for user %d: %w", userID, ErrNotFound)
	}
	return user.Credential, nil
}

// PutCredential replaces a user's Strava credential. The refresh token is
// always overwritten since Strava may rotate it on every refresh.
func (db *DB) PutCredential(ctx context.Context, userID int64, cred models.Credential) error {
	now := time.Now().UTC()

	result, err := db.ExecContext(ctx, `
	UPDATE users
	SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
	WHERE id = ?`,
		cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, now, userID)
	if err != nil {
		return fmt.Errorf("update credential for user %d: %w", userID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}
