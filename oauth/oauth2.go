package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const stateCookie = "oauth_state"

// StravaEndpoint builds the Strava OAuth endpoint. Strava wants the client
// credentials in the request body rather than basic auth.
func StravaEndpoint(authURL, tokenURL string) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   authURL,
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// OAuth2Service wraps the Strava OAuth2 configuration
type OAuth2Service struct {
	config     oauth2.Config
	httpClient *http.Client
}

// generateRandomState creates a random state string for CSRF protection
func generateRandomState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

// NewOAuth2Service creates a new OAuth2Service. Strava expects its scopes comma
// separated in a single value, so pass them as one element.
func NewOAuth2Service(clientID, clientSecret, redirectURI string, scopes []string, endpoint oauth2.Endpoint, httpClient *http.Client) *OAuth2Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &OAuth2Service{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the Strava authorization page URL
func (o *OAuth2Service) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// HandleLogin redirects the user to the Strava authorization page. The state is
// left in a short lived cookie for the frontend callback to compare.
func (o *OAuth2Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state := generateRandomState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, o.AuthCodeURL(state), http.StatusSeeOther)
}

// Exchange trades an authorization code for a token
func (o *OAuth2Service) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return o.config.Exchange(o.clientContext(ctx), code, opts...)
}

// RefreshToken refreshes an OAuth2 token from its refresh token alone
func (o *OAuth2Service) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := o.config.TokenSource(o.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	return source.Token()
}

func (o *OAuth2Service) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}
