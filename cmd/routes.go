package main

import (
	"net/http"

	"github.com/justinas/alice"

	"github.com/wyzwanie/challenge/session"
	"github.com/wyzwanie/challenge/web"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /", web.Static())
	mux.HandleFunc("GET /health", app.health)

	// OAuth Routes
	mux.HandleFunc("GET /auth/login", app.oauthService.HandleLogin)
	mux.HandleFunc("POST /auth/exchange-token", app.exchangeToken)
	mux.HandleFunc("POST /auth/refresh-token", app.refreshToken)
	mux.HandleFunc("POST /auth/verify-token", session.WithAuth(app.verifyToken, app.sessionManager))

	mux.HandleFunc("POST /users", app.createUser)
	mux.HandleFunc("GET /users/{providerId}", app.getUser)

	// Authenticated Strava proxy
	mux.HandleFunc("GET /strava/athlete", session.WithAuth(app.stravaAthlete, app.sessionManager))
	mux.HandleFunc("GET /strava/activities", session.WithAuth(app.stravaActivities, app.sessionManager))

	mux.HandleFunc("GET /participants", app.participants)
	mux.HandleFunc("GET /activities", app.activities)
	mux.HandleFunc("POST /activities/{id}/highfive", session.WithAuth(app.highFive, app.sessionManager))

	standard := alice.New(app.recoverPanic, app.logRequest, app.corsHandler())
	return standard.Then(mux)
}
