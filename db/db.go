package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/wyzwanie/challenge/models"
)

// ErrNotFound is returned when a user or activity does not exist
var ErrNotFound = errors.New("not found")

// DB is a wrapper around sql.DB
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// sqlite has a single writer, and every :memory: connection is its own database
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Initialize sets up the database tables
func (db *DB) Initialize() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strava_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		avatar TEXT,
		points REAL NOT NULL DEFAULT 0,
		run_distance REAL NOT NULL DEFAULT 0,
		ride_distance REAL NOT NULL DEFAULT 0,
		streak INTEGER NOT NULL DEFAULT 0,
		access_token TEXT,
		refresh_token TEXT,
		expires_at INTEGER,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		strava_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		distance REAL NOT NULL,
		date TIMESTAMP NOT NULL,
		pace REAL NOT NULL DEFAULT 0,
		speed REAL NOT NULL DEFAULT 0,
		high_fives INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_activities_user_id ON activities(user_id)`)
	return err
}

const userColumns = `id, strava_id, name, role, avatar, points, run_distance, ride_distance, streak,
	access_token, refresh_token, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var accessToken, refreshToken sql.NullString
	var expiresAt sql.NullInt64

	err := row.Scan(
		&user.ID, &user.StravaID, &user.Name, &user.Role, &user.Avatar,
		&user.Points, &user.RunDistance, &user.RideDistance, &user.Streak,
		&accessToken, &refreshToken, &expiresAt,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}

	user.Credential = models.Credential{
		AccessToken:  accessToken.String,
		RefreshToken: refreshToken.String,
		ExpiresAt:    expiresAt.Int64,
	}
	return user, nil
}

// UpsertUser creates the user or updates the profile of the one with the same Strava ID.
// Derived stats are never touched here. A zero credential keeps the stored one.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now().UTC()
	cred := user.Credential

	_, err := db.ExecContext(ctx, `
	INSERT INTO users (strava_id, name, role, avatar, access_token, refresh_token, expires_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0), ?, ?)
	ON CONFLICT(strava_id) DO UPDATE SET
		name = excluded.name,
		role = excluded.role,
		avatar = excluded.avatar,
		access_token = COALESCE(excluded.access_token, users.access_token),
		refresh_token = COALESCE(excluded.refresh_token, users.refresh_token),
		expires_at = COALESCE(excluded.expires_at, users.expires_at),
		updated_at = excluded.updated_at`,
		user.StravaID, user.Name, user.Role, user.Avatar,
		cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", user.StravaID, err)
	}

	return db.GetUserByStravaID(ctx, user.StravaID)
}

// GetUserByID retrieves a user by internal ID
func (db *DB) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return user, err
}

// GetUserByStravaID retrieves a user by their Strava athlete ID
func (db *DB) GetUserByStravaID(ctx context.Context, stravaID string) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE strava_id = ?`, stravaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", stravaID, ErrNotFound)
	}
	return user, err
}

// GetAllUsers returns every user in insertion order
func (db *DB) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
