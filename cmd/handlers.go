package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/wyzwanie/challenge/db"
	"github.com/wyzwanie/challenge/models"
	"github.com/wyzwanie/challenge/service/leaderboard"
	"github.com/wyzwanie/challenge/session"
)

// ===== Auth =====

type exchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Token        string `json:"token,omitempty"`
}

// exchangeToken trades a Strava authorization code for tokens. Athletes that
// already joined get their credential updated and a session token.
func (app *application) exchangeToken(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, "", err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		app.writeError(w, r, "", invalid("code", "is required"))
		return
	}

	ctx := r.Context()
	tok, err := app.stravaClient.ExchangeCode(ctx, req.Code, req.RedirectURI)
	if err != nil {
		app.writeError(w, r, "Token exchange failed", err)
		return
	}

	resp := tokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}

	user, err := app.database.GetUserByStravaID(ctx, tok.AthleteID)
	if errors.Is(err, db.ErrNotFound) {
		// not registered yet, the client follows up with POST /users
		jsonResponse(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		app.writeError(w, r, "Token exchange failed", err)
		return
	}

	if err := app.database.PutCredential(ctx, user.ID, tok.Credential()); err != nil {
		app.writeError(w, r, "Token exchange failed", err)
		return
	}

	resp.Token, err = app.sessionManager.CreateToken(user)
	if err != nil {
		app.writeError(w, r, "Token exchange failed", err)
		return
	}

	jsonResponse(w, http.StatusOK, resp)
}

func (app *application) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, "", err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		app.writeError(w, r, "", invalid("refresh_token", "is required"))
		return
	}

	tok, err := app.stravaClient.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		app.writeError(w, r, "Token refresh failed", err)
		return
	}

	jsonResponse(w, http.StatusOK, tokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	})
}

func (app *application) verifyToken(w http.ResponseWriter, r *http.Request) {
	userID, _ := session.GetUserID(r.Context())

	user, err := app.database.GetUserByID(r.Context(), userID)
	if err != nil {
		app.writeError(w, r, "User not found", err)
		return
	}

	// the token must still belong to the athlete stored under its user ID
	if claims, ok := session.GetClaims(r.Context()); !ok || claims.StravaID != user.StravaID {
		app.writeError(w, r, "Invalid token", fmt.Errorf("%w: athlete mismatch", session.ErrInvalidToken))
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    leaderboard.NewParticipant(user),
	})
}

// ===== Users =====

// externalID accepts an athlete ID sent either as a JSON string or number
type externalID string

func (id *externalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = externalID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("athlete id %s is not an integer", n)
	}
	*id = externalID(n.String())
	return nil
}

type userInput struct {
	StravaID   externalID         `json:"stravaId"`
	ProviderID externalID         `json:"providerId"`
	Name       string             `json:"name"`
	Role       string             `json:"role"`
	Avatar     *string            `json:"avatar"`
	Tokens     *models.Credential `json:"tokens"`
}

// toUser validates the input and builds the user to upsert
func (in userInput) toUser() (*models.User, error) {
	stravaID := strings.TrimPrefix(strings.TrimSpace(string(in.StravaID)), leaderboard.IDPrefix)
	if stravaID == "" {
		stravaID = strings.TrimPrefix(strings.TrimSpace(string(in.ProviderID)), leaderboard.IDPrefix)
	}
	if stravaID == "" {
		return nil, invalid("stravaId", "is required")
	}
	if _, err := strconv.ParseInt(stravaID, 10, 64); err != nil {
		return nil, invalid("stravaId", "must be numeric")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if !models.ValidRole(in.Role) {
		return nil, invalid("role", fmt.Sprintf("must be one of %s, %s, %s", models.RoleRunner, models.RoleCyclist, models.RoleCombined))
	}

	user := &models.User{
		StravaID: stravaID,
		Name:     name,
		Role:     in.Role,
		Avatar:   in.Avatar,
	}
	if in.Tokens != nil {
		user.Credential = *in.Tokens
	}
	return user, nil
}

func (app *application) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User *userInput `json:"user"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, "", err)
		return
	}
	if req.User == nil {
		app.writeError(w, r, "", invalid("user", "is required"))
		return
	}

	input, err := req.User.toUser()
	if err != nil {
		app.writeError(w, r, "", err)
		return
	}

	user, err := app.database.UpsertUser(r.Context(), input)
	if err != nil {
		app.writeError(w, r, "Could not save user", err)
		return
	}

	token, err := app.sessionManager.CreateToken(user)
	if err != nil {
		app.writeError(w, r, "Could not save user", err)
		return
	}

	app.logger.Info("user registered", "user", user.ID, "strava_id", user.StravaID, "role", user.Role)
	jsonResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user":    leaderboard.NewParticipant(user),
	})
}

func (app *application) getUser(w http.ResponseWriter, r *http.Request) {
	stravaID := strings.TrimPrefix(r.PathValue("providerId"), leaderboard.IDPrefix)

	user, err := app.database.GetUserByStravaID(r.Context(), stravaID)
	if err != nil {
		app.writeError(w, r, "User not found", err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    leaderboard.NewParticipant(user),
	})
}

// ===== Strava proxy =====

func (app *application) stravaAthlete(w http.ResponseWriter, r *http.Request) {
	userID, _ := session.GetUserID(r.Context())

	cred, err := app.activityService.EnsureFreshCredential(r.Context(), userID)
	if err != nil {
		app.writeError(w, r, stravaFailure(err, "Could not load Strava profile"), err)
		return
	}

	athlete, err := app.stravaClient.FetchAthlete(r.Context(), cred.AccessToken)
	if err != nil {
		app.writeError(w, r, "Could not load Strava profile", err)
		return
	}

	jsonResponse(w, http.StatusOK, athlete)
}

// stravaActivities runs an ingestion cycle for the caller and answers with
// what Strava returned, unfiltered.
func (app *application) stravaActivities(w http.ResponseWriter, r *http.Request) {
	userID, _ := session.GetUserID(r.Context())

	after, err := epochParam(r, "after")
	if err != nil {
		app.writeError(w, r, "", err)
		return
	}
	before, err := epochParam(r, "before")
	if err != nil {
		app.writeError(w, r, "", err)
		return
	}

	raws, _, err := app.activityService.Sync(r.Context(), userID, after, before)
	if err != nil {
		app.writeError(w, r, stravaFailure(err, "Could not sync Strava activities"), err)
		return
	}

	payload := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		payload = append(payload, raw.Raw)
	}
	jsonResponse(w, http.StatusOK, payload)
}

// stravaFailure names the common case of a user who never linked Strava
func stravaFailure(err error, message string) string {
	if errors.Is(err, db.ErrNotFound) {
		return "Strava account not linked"
	}
	return message
}

func epochParam(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, invalid(name, "must be a unix timestamp")
	}
	return n, nil
}

// ===== Leaderboard =====

func (app *application) participants(w http.ResponseWriter, r *http.Request) {
	users, err := app.database.GetAllUsers(r.Context())
	if err != nil {
		app.writeError(w, r, "Could not load participants", err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"success":      true,
		"participants": leaderboard.Participants(users),
	})
}

func (app *application) activities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activities, err := app.database.GetAllActivities(ctx)
	if err != nil {
		app.writeError(w, r, "Could not load activities", err)
		return
	}
	users, err := app.database.GetAllUsers(ctx)
	if err != nil {
		app.writeError(w, r, "Could not load activities", err)
		return
	}

	byID := make(map[int64]*models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"success":    true,
		"activities": leaderboard.Feed(activities, byID),
	})
}

func (app *application) highFive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.PathValue("id")

	activityID, err := leaderboard.ParseActivityID(raw)
	if err != nil {
		app.writeError(w, r, "Activity not found", fmt.Errorf("activity %q: %w", raw, db.ErrNotFound))
		return
	}

	activity, err := app.database.IncrementHighFives(ctx, activityID)
	if err != nil {
		app.writeError(w, r, "Activity not found", err)
		return
	}

	owner, err := app.database.GetUserByID(ctx, activity.UserID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		app.writeError(w, r, "Could not load activity owner", err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"success":  true,
		"activity": leaderboard.NewFeedItem(activity, owner),
	})
}

func (app *application) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
