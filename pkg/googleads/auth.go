package googleads

import (
	"context"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
)

const (
	// Scope is the OAuth scope of the Google Ads API
	Scope = "https://www.googleapis.com/auth/adwords"
	// TokenURL is Google's OAuth token endpoint
	TokenURL = "https://oauth2.googleapis.com/token"
)

// Credentials authenticate API calls with either an OAuth refresh token or
// a service account key. A service account key takes precedence.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// ServiceAccountJSON is the key file content
	ServiceAccountJSON []byte
	// ImpersonatedEmail is the user the service account acts as
	ImpersonatedEmail string

	// TokenURL overrides the token endpoint
	TokenURL string
}

// CredentialsFromConfig reads credentials, loading the key file if configured
func CredentialsFromConfig(cfg config.GoogleAdsConfig) (Credentials, error) {
	creds := Credentials{
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		RefreshToken:      cfg.RefreshToken,
		ImpersonatedEmail: cfg.ImpersonatedEmail,
	}

	switch {
	case cfg.ServiceAccountJSON != "":
		creds.ServiceAccountJSON = []byte(cfg.ServiceAccountJSON)
	case cfg.ServiceAccountFile != "":
		data, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return Credentials{}, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read service account file").
				WithDetail("path", cfg.ServiceAccountFile)
		}
		creds.ServiceAccountJSON = data
	}
	return creds, nil
}

// TokenSource returns a caching source of access tokens
func (c Credentials) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}

	if len(c.ServiceAccountJSON) > 0 {
		jwt, err := google.JWTConfigFromJSON(c.ServiceAccountJSON, Scope)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid service account key")
		}
		jwt.Subject = c.ImpersonatedEmail
		if c.TokenURL != "" {
			jwt.TokenURL = c.TokenURL
		}
		return jwt.TokenSource(ctx), nil
	}

	if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "client_id, client_secret and refresh_token are required")
	}

	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{Scope},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}), nil
}

// StaticTokenSource serves a fixed access token, for tests and for tokens
// minted outside adsync
func StaticTokenSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}
