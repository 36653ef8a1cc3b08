package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/wyzwanie/challenge/config"
	"github.com/wyzwanie/challenge/db"
	"github.com/wyzwanie/challenge/oauth"
	"github.com/wyzwanie/challenge/service/activity"
	"github.com/wyzwanie/challenge/service/strava"
	"github.com/wyzwanie/challenge/session"
)

type application struct {
	database        *db.DB
	sessionManager  *session.Manager
	oauthService    *oauth.OAuth2Service
	stravaClient    *strava.Client
	activityService *activity.Service
	allowedOrigins  []string
	logger          *log.Logger
}

func main() {
	config.Load()

	logger := log.NewWithOptions(os.Stdout, log.Options{Prefix: "http", ReportTimestamp: true})

	database, err := db.New(viper.GetString("db.path"))
	if err != nil {
		logger.Fatal("Error connecting to database", "err", err)
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		logger.Fatal("Error initializing database", "err", err)
	}

	streakZone, err := streakLocation(viper.GetString("streak.timezone"))
	if err != nil {
		logger.Fatal("Invalid streak.timezone", "err", err)
	}

	timeout := time.Duration(viper.GetInt("strava.timeout_seconds")) * time.Second

	oauthService := oauth.NewOAuth2Service(
		viper.GetString("strava.client_id"),
		viper.GetString("strava.client_secret"),
		viper.GetString("strava.redirect_url"),
		[]string{viper.GetString("strava.scopes")},
		oauth.StravaEndpoint(viper.GetString("strava.auth_url"), viper.GetString("strava.token_url")),
		&http.Client{Timeout: timeout},
	)

	stravaClient := strava.NewClient(oauthService, strava.Config{
		APIURL:            viper.GetString("strava.api_url"),
		Timeout:           timeout,
		RequestsPerSecond: viper.GetFloat64("strava.requests_per_second"),
	})

	app := &application{
		database:        database,
		sessionManager:  session.NewSessionManager(viper.GetString("jwt.secret"), time.Duration(viper.GetInt("jwt.ttl_hours"))*time.Hour),
		oauthService:    oauthService,
		stravaClient:    stravaClient,
		activityService: activity.NewActivityService(database, stravaClient, streakZone),
		allowedOrigins:  splitList(viper.GetString("cors.allowed_origins")),
		logger:          logger,
	}

	if interval := time.Duration(viper.GetInt("sync.interval_minutes")) * time.Minute; interval > 0 {
		window := time.Duration(viper.GetInt("sync.window_days")) * 24 * time.Hour
		go app.activityService.StartSyncTracker(context.Background(), interval, window)
	}

	serverAddr := fmt.Sprintf("%s:%s", viper.GetString("server.host"), viper.GetString("server.port"))
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2*timeout + 10*time.Second,
	}
	logger.Info("Server running", "addr", "http://"+serverAddr)
	logger.Fatal(server.ListenAndServe())
}

// streakLocation resolves the configured zone. Zone data is embedded so
// minimal images without zoneinfo still work.
func streakLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load streak timezone %q: %w", name, err)
	}
	return loc, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
