package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/wyzwanie/challenge/models"
	"github.com/wyzwanie/challenge/oauth"
)

const defaultAPIURL = "https://www.strava.com/api/v3"

var ErrNoRefreshToken = errors.New("no refresh token")

// UpstreamError is returned when Strava answers with a non-2xx status or
// cannot be reached at all (Status 0).
type UpstreamError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("strava unreachable: %s", e.Message)
	}
	return fmt.Sprintf("strava API error (%d): %s", e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type Config struct {
	APIURL            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client performs single, unretried calls against Strava
type Client struct {
	oauth      *oauth.OAuth2Service
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

func NewClient(oauthService *oauth.OAuth2Service, cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		oauth:  oauthService,
		apiURL: cfg.APIURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  log.NewWithOptions(os.Stdout, log.Options{Prefix: "strava", ReportTimestamp: true}),
	}
}

// ExchangeCode trades an authorization code for tokens and the athlete ID
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	token, err := c.oauth.Exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, tokenError(err)
	}

	resp := normalizeToken(token)
	resp.AthleteID = athleteID(token)
	if resp.AthleteID == "" {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "token response has no athlete"}
	}

	c.logger.Info("exchanged authorization code", "athlete", resp.AthleteID)
	return resp, nil
}

// Refresh gets a new access token. Strava may rotate the refresh token, the
// returned one must replace the stored one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	token, err := c.oauth.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, tokenError(err)
	}

	return normalizeToken(token), nil
}

// FetchActivities lists the athlete's activities between after and before
// (epoch seconds, zero means unbounded).
func (c *Client) FetchActivities(ctx context.Context, accessToken string, after, before int64) ([]models.RawActivity, error) {
	params := url.Values{}
	if after > 0 {
		params.Set("after", strconv.FormatInt(after, 10))
	}
	if before > 0 {
		params.Set("before", strconv.FormatInt(before, 10))
	}

	body, err := c.get(ctx, accessToken, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "malformed activities response", Err: err}
	}

	activities := make([]models.RawActivity, 0, len(items))
	for _, item := range items {
		var a models.RawActivity
		if err := json.Unmarshal(item, &a); err != nil {
			return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "malformed activity", Err: err}
		}
		a.Raw = item
		activities = append(activities, a)
	}

	c.logger.Debug("fetched activities", "count", len(activities), "after", after, "before", before)
	return activities, nil
}

// FetchAthlete returns the authenticated athlete's profile as Strava sent it
func (c *Client) FetchAthlete(ctx context.Context, accessToken string) (json.RawMessage, error) {
	body, err := c.get(ctx, accessToken, "/athlete", nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Message: "malformed athlete response"}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values) ([]byte, error) {
	apiURL := c.apiURL + path
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("strava request failed", "path", path, "status", resp.StatusCode)
		return nil, &UpstreamError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	return body, nil
}

// errorMessage pulls "message" out of a Strava fault body, falling back to the raw body
func errorMessage(body []byte) string {
	var fault struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &fault); err == nil && fault.Message != "" {
		return fault.Message
	}
	return string(body)
}

func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := http.StatusBadGateway
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &UpstreamError{Status: status, Message: errorMessage(retrieveErr.Body), Err: err}
	}
	return &UpstreamError{Message: err.Error(), Err: err}
}

func normalizeToken(token *oauth2.Token) *models.TokenResponse {
	resp := &models.TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
	}
	// prefer Strava's own expires_at over the one derived from expires_in
	if v, ok := extraInt(token.Extra("expires_at")); ok {
		resp.ExpiresAt = v
	}
	return resp
}

func athleteID(token *oauth2.Token) string {
	athlete, ok := token.Extra("athlete").(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := extraInt(athlete["id"]); ok {
		return strconv.FormatInt(id, 10)
	}
	return ""
}

func extraInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
