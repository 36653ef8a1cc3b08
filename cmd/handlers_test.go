package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyzwanie/challenge/db"
	"github.com/wyzwanie/challenge/models"
	"github.com/wyzwanie/challenge/oauth"
	"github.com/wyzwanie/challenge/service/activity"
	"github.com/wyzwanie/challenge/service/strava"
	"github.com/wyzwanie/challenge/session"
)

// ===== Test Helpers =====

type testApp struct {
	*application
	handler http.Handler
}

func newTestApp(t *testing.T, stravaHandler http.Handler) *testApp {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Initialize())
	t.Cleanup(func() { database.Close() })

	if stravaHandler == nil {
		stravaHandler = http.NotFoundHandler()
	}
	server := httptest.NewServer(stravaHandler)
	t.Cleanup(server.Close)

	oauthService := oauth.NewOAuth2Service("client-1", "secret", "http://localhost/callback", []string{"read,activity:read_all"},
		oauth.StravaEndpoint(server.URL+"/oauth/authorize", server.URL+"/oauth/token"), server.Client())
	stravaClient := strava.NewClient(oauthService, strava.Config{APIURL: server.URL + "/api/v3", Timeout: 5 * time.Second})

	app := &application{
		database:        database,
		sessionManager:  session.NewSessionManager("test-secret", session.DefaultTTL),
		oauthService:    oauthService,
		stravaClient:    stravaClient,
		activityService: activity.NewActivityService(database, stravaClient, time.UTC),
		allowedOrigins:  []string{"*"},
		logger:          log.New(io.Discard),
	}
	return &testApp{application: app, handler: app.routes()}
}

func (ta *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func (ta *testApp) createUser(t *testing.T, stravaID, name string, cred models.Credential) (*models.User, string) {
	t.Helper()
	user, err := ta.database.UpsertUser(context.Background(), &models.User{
		StravaID:   stravaID,
		Name:       name,
		Role:       models.RoleCombined,
		Credential: cred,
	})
	require.NoError(t, err)
	token, err := ta.sessionManager.CreateToken(user)
	require.NoError(t, err)
	return user, token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// ===== Health & Static =====

func TestHealth(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestIndexServed(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(t, http.MethodGet, "/", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/auth/login")
}

func TestLoginRedirect(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(t, http.MethodGet, "/auth/login", "", nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/oauth/authorize")
	assert.Contains(t, rec.Header().Get("Location"), "client_id=client-1")
}

func TestCORSPreflight(t *testing.T) {
	ta := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/participants", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

// ===== Auth =====

func TestExchangeToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.PostForm.Get("code") {
		case "known":
			writeJSON(w, http.StatusOK, `{"access_token":"acc-known","refresh_token":"ref-known","expires_at":1900000000,"athlete":{"id":111}}`)
		case "new":
			writeJSON(w, http.StatusOK, `{"access_token":"acc-new","refresh_token":"ref-new","expires_at":1900000000,"athlete":{"id":222}}`)
		default:
			writeJSON(w, http.StatusBadRequest, `{"message":"Bad Request"}`)
		}
	})
	ta := newTestApp(t, mux)
	known, _ := ta.createUser(t, "111", "Known Athlete", models.Credential{})

	t.Run("known athlete gets a session", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/auth/exchange-token", "", map[string]string{"code": "known"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		assert.Equal(t, "acc-known", body["access_token"])
		assert.Equal(t, "ref-known", body["refresh_token"])
		assert.EqualValues(t, 1900000000, body["expires_at"])
		require.NotEmpty(t, body["token"])

		claims, err := ta.sessionManager.ParseToken(body["token"].(string))
		require.NoError(t, err)
		assert.Equal(t, known.ID, claims.UserID)

		cred, err := ta.database.GetCredential(context.Background(), known.ID)
		require.NoError(t, err)
		assert.Equal(t, "acc-known", cred.AccessToken)
		assert.Equal(t, "ref-known", cred.RefreshToken)
	})

	t.Run("new athlete gets tokens only", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/auth/exchange-token", "", map[string]string{"code": "new"})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "acc-new", body["access_token"])
		assert.NotContains(t, body, "token")
	})

	t.Run("provider rejects code", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/auth/exchange-token", "", map[string]string{"code": "bad"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Contains(t, body["error"], "Bad Request")
	})

	t.Run("missing code", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/auth/exchange-token", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("refresh_token") != "old-ref" {
			writeJSON(w, http.StatusBadRequest, `{"message":"Bad Request"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"access_token":"acc-2","refresh_token":"ref-2","expires_at":1900000000}`)
	})
	ta := newTestApp(t, mux)

	rec := ta.do(t, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refresh_token": "old-ref"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "acc-2", body["access_token"])
	assert.Equal(t, "ref-2", body["refresh_token"])

	rec = ta.do(t, http.MethodPost, "/auth/refresh-token", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyToken(t *testing.T) {
	ta := newTestApp(t, nil)
	_, token := ta.createUser(t, "111", "Ada", models.Credential{})

	testCases := []struct {
		name   string
		token  string
		status int
	}{
		{name: "no token", status: http.StatusUnauthorized},
		{name: "bad token", token: "garbage", status: http.StatusForbidden},
		{name: "valid token", token: token, status: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ta.do(t, http.MethodPost, "/auth/verify-token", tc.token, nil)
			assert.Equal(t, tc.status, rec.Code)

			body := decodeBody(t, rec)
			if tc.status != http.StatusOK {
				assert.Equal(t, false, body["success"])
				return
			}
			assert.Equal(t, true, body["success"])
			user := body["user"].(map[string]any)
			assert.Equal(t, "strava-111", user["id"])
			assert.Equal(t, "Ada", user["name"])
		})
	}
}

// ===== Users =====

func TestCreateUserValidation(t *testing.T) {
	ta := newTestApp(t, nil)

	testCases := []struct {
		name string
		body any
	}{
		{name: "empty body", body: ""},
		{name: "malformed", body: `{"user":`},
		{name: "no user", body: map[string]any{}},
		{name: "missing strava id", body: map[string]any{"user": map[string]any{"name": "Ada", "role": "runner"}}},
		{name: "non numeric strava id", body: map[string]any{"user": map[string]any{"stravaId": "abc", "name": "Ada", "role": "runner"}}},
		{name: "missing name", body: map[string]any{"user": map[string]any{"stravaId": "1", "name": "  ", "role": "runner"}}},
		{name: "bad role", body: map[string]any{"user": map[string]any{"stravaId": "1", "name": "Ada", "role": "swimmer"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ta.do(t, http.MethodPost, "/users", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
			assert.NotEmpty(t, body["error"])
		})
	}

	users, err := ta.database.GetAllUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestCreateUserUpsert(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(t, http.MethodPost, "/users", "", map[string]any{"user": map[string]any{
		"stravaId": 12345,
		"name":     "Ada",
		"role":     "runner",
		"tokens":   map[string]any{"access_token": "acc", "refresh_token": "ref", "expires_at": 1900000000},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "strava-12345", body["user"].(map[string]any)["id"])

	// same athlete again through providerId, without tokens
	rec = ta.do(t, http.MethodPost, "/users", "", map[string]any{"user": map[string]any{
		"providerId": "strava-12345",
		"name":       "Ada L.",
		"role":       "combined",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	users, err := ta.database.GetAllUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ada L.", users[0].Name)
	assert.Equal(t, models.RoleCombined, users[0].Role)

	cred, err := ta.database.GetCredential(context.Background(), users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ref", cred.RefreshToken)
}

func TestGetUser(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.createUser(t, "111", "Ada", models.Credential{})

	for _, path := range []string{"/users/111", "/users/strava-111"} {
		rec := ta.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "Ada", decodeBody(t, rec)["user"].(map[string]any)["name"])
	}

	rec := ta.do(t, http.MethodGet, "/users/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

// ===== Leaderboard =====

func TestParticipantsOrdering(t *testing.T) {
	ta := newTestApp(t, nil)
	ctx := context.Background()

	for i, points := range []float64{5, 20, 20, 1} {
		user, _ := ta.createUser(t, fmt.Sprintf("%d", 100+i), fmt.Sprintf("User %d", i), models.Credential{})
		user.Points = points
		require.NoError(t, ta.database.ReplaceUserActivities(ctx, user, nil))
	}

	rec := ta.do(t, http.MethodGet, "/participants", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success      bool
		Participants []struct {
			ID     string  `json:"id"`
			Points float64 `json:"points"`
		}
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)

	var ids []string
	for _, p := range body.Participants {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"strava-101", "strava-102", "strava-100", "strava-103"}, ids)
}

func TestActivitiesFeed(t *testing.T) {
	ta := newTestApp(t, nil)
	ctx := context.Background()
	user, _ := ta.createUser(t, "111", "Ada", models.Credential{})

	base := time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC)
	require.NoError(t, ta.database.ReplaceUserActivities(ctx, user, []*models.Activity{
		{StravaID: "1", Type: models.ActivityRun, Name: "old", Distance: 5, Date: base.Add(-24 * time.Hour)},
		{StravaID: "2", Type: models.ActivityRide, Name: "new", Distance: 20, Date: base},
	}))

	rec := ta.do(t, http.MethodGet, "/activities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	items := body["activities"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "new", first["name"])
	assert.Equal(t, "strava-111", first["userId"])
	assert.True(t, strings.HasPrefix(first["id"].(string), "strava-"))
}

func TestHighFive(t *testing.T) {
	ta := newTestApp(t, nil)
	ctx := context.Background()
	user, token := ta.createUser(t, "111", "Ada", models.Credential{})

	activities := []*models.Activity{
		{StravaID: "1", Type: models.ActivityRun, Name: "run", Distance: 5, Date: time.Now()},
	}
	require.NoError(t, ta.database.ReplaceUserActivities(ctx, user, activities))
	activityPath := fmt.Sprintf("/activities/strava-%d/highfive", activities[0].ID)

	t.Run("requires auth", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, activityPath, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("increments", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, activityPath, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		activity := decodeBody(t, rec)["activity"].(map[string]any)
		assert.EqualValues(t, 1, activity["highFives"])
		assert.Equal(t, "strava-111", activity["userId"])

		rec = ta.do(t, http.MethodPost, fmt.Sprintf("/activities/%d/highfive", activities[0].ID), token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, decodeBody(t, rec)["activity"].(map[string]any)["highFives"])
	})

	t.Run("unknown activity", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/activities/strava-9999/highfive", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = ta.do(t, http.MethodPost, "/activities/nope/highfive", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		stored, err := ta.database.GetActivityByID(ctx, activities[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.HighFives)
	})
}

// ===== Strava proxy =====

func TestStravaActivitiesSync(t *testing.T) {
	today := time.Now().UTC().Format(time.RFC3339)
	var refreshed atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		refreshed.Store(true)
		writeJSON(w, http.StatusOK, `{"access_token":"fresh","refresh_token":"rotated","expires_at":4102444800}`)
	})
	mux.HandleFunc("GET /api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Authorization Error"}`)
			return
		}
		writeJSON(w, http.StatusOK, fmt.Sprintf(`[
			{"id":1,"name":"Morning Run","type":"Run","distance":10000,"moving_time":3000,"start_date":%q,"kudos_count":3},
			{"id":2,"name":"Swim","type":"Swim","distance":1000,"moving_time":1800,"start_date":%q}
		]`, today, today))
	})
	ta := newTestApp(t, mux)
	user, token := ta.createUser(t, "111", "Ada", models.Credential{AccessToken: "stale", RefreshToken: "ref", ExpiresAt: 1})

	rec := ta.do(t, http.MethodGet, "/strava/activities?after=0", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, refreshed.Load())

	var raws []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raws))
	require.Len(t, raws, 2)
	assert.EqualValues(t, 3, raws[0]["kudos_count"])

	stored, err := ta.database.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, stored.Points, 1e-9)
	assert.InDelta(t, 10.0, stored.RunDistance, 1e-9)
	assert.Equal(t, 1, stored.Streak)
	assert.Equal(t, "rotated", stored.Credential.RefreshToken)

	rec = ta.do(t, http.MethodGet, "/strava/activities?after=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStravaAthlete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/athlete", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer valid" {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Authorization Error"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":111,"firstname":"Ada"}`)
	})
	ta := newTestApp(t, mux)
	_, token := ta.createUser(t, "111", "Ada", models.Credential{AccessToken: "valid", RefreshToken: "ref", ExpiresAt: 4102444800})
	_, otherToken := ta.createUser(t, "222", "Bob", models.Credential{AccessToken: "revoked", RefreshToken: "ref", ExpiresAt: 4102444800})

	rec := ta.do(t, http.MethodGet, "/strava/athlete", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada", decodeBody(t, rec)["firstname"])

	rec = ta.do(t, http.MethodGet, "/strava/athlete", otherToken, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Authorization Error")
}

func TestStravaRoutesWithoutLinkedAccount(t *testing.T) {
	var tokenCalls, apiCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		writeJSON(w, http.StatusOK, `{"access_token":"acc","refresh_token":"ref","expires_at":4102444800}`)
	})
	mux.HandleFunc("/api/v3/", func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		writeJSON(w, http.StatusOK, `[]`)
	})
	ta := newTestApp(t, mux)
	_, token := ta.createUser(t, "111", "Ada", models.Credential{})

	for _, path := range []string{"/strava/activities", "/strava/athlete"} {
		t.Run(path, func(t *testing.T) {
			rec := ta.do(t, http.MethodGet, path, token, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "Strava account not linked", body["message"])
		})
	}

	assert.Zero(t, tokenCalls.Load())
	assert.Zero(t, apiCalls.Load())
}

func TestVerifyTokenRejectsMismatchedAthlete(t *testing.T) {
	ta := newTestApp(t, nil)
	user, _ := ta.createUser(t, "111", "Ada", models.Credential{})

	forged, err := ta.sessionManager.CreateToken(&models.User{ID: user.ID, StravaID: "999"})
	require.NoError(t, err)

	rec := ta.do(t, http.MethodPost, "/auth/verify-token", forged, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestStreakLocation(t *testing.T) {
	loc, err := streakLocation("Europe/Warsaw")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Warsaw", loc.String())

	loc, err = streakLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = streakLocation("Mars/Olympus")
	assert.Error(t, err)
}
