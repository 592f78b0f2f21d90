package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

const (
	authURL      = "https://www.strava.com/oauth/authorize"
	tokenURL     = "https://www.strava.com/oauth/token"
	callbackAddr = "localhost:8089"
	redirectURI  = "http://" + callbackAddr + "/callback"
	scopes       = "read,activity:read_all"
	loginState   = "strava-runstats-auth"
	loginTimeout = 5 * time.Minute

	// expiryMargin is how close to expiry a token may be before it is refreshed.
	expiryMargin = 5 * time.Minute
)

// StravaOAuthConfig returns an OAuth2 config for Strava
func StravaOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{scopes},
	}
}

// TokenResponse is the token set persisted between runs.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// TokenFromOAuth2 converts an oauth2.Token to our TokenResponse
func TokenFromOAuth2(token *oauth2.Token) *TokenResponse {
	t := &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		t.ExpiresAt = token.Expiry.Unix()
	}
	return t
}

// ToOAuth2Token converts our TokenResponse to an oauth2.Token
func (t *TokenResponse) ToOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiresAt != 0 {
		token.Expiry = time.Unix(t.ExpiresAt, 0)
	}
	return token
}

// Login runs the browser authorization-code flow against a local callback
// server and exchanges the code for tokens.
func Login(ctx context.Context, config *oauth2.Config) (*TokenResponse, error) {
	log := logging.Component("auth")

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{
		Addr:              callbackAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("state") != loginState {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errChan <- errors.New("authorization failed: state mismatch")
			return
		}
		code := query.Get("code")
		if code == "" {
			errMsg := query.Get("error")
			if errMsg == "" {
				errMsg = "no authorization code received"
			}
			http.Error(w, errMsg, http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization failed: %s", errMsg)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>`)
		codeChan <- code
	})

	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("callback server error: %w", err)
		}
	}()

	url := config.AuthCodeURL(loginState, oauth2.SetAuthURLParam("approval_prompt", "force"))

	fmt.Println("Opening browser for Strava authorization...")
	fmt.Printf("If browser doesn't open, visit: %s\n\n", url)

	if err := browser.OpenURL(url); err != nil {
		log.Warn().Err(err).Msg("could not open browser automatically")
	}

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		server.Shutdown(context.Background())
		return nil, err
	case <-ctx.Done():
		server.Shutdown(context.Background())
		return nil, ctx.Err()
	case <-time.After(loginTimeout):
		server.Shutdown(context.Background())
		return nil, errors.New("authorization timeout")
	}

	server.Shutdown(ctx)

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	log.Info().Time("expires", token.Expiry).Msg("authorization complete")
	return TokenFromOAuth2(token), nil
}

// Refresh performs a refresh_token grant. Strava may rotate the refresh token,
// so callers should persist the result.
func Refresh(ctx context.Context, config *oauth2.Config, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, errors.New("no refresh token available: run 'strava-runstats auth login' first")
	}

	// an already-expired token forces the TokenSource to refresh
	oldToken := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	newToken, err := config.TokenSource(ctx, oldToken).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	logging.Debug("access token refreshed", "expires", newToken.Expiry.Format(time.RFC3339))
	return TokenFromOAuth2(newToken), nil
}

// IsTokenExpired checks if the token is expired or will expire soon
func IsTokenExpired(expiresAt int64) bool {
	return time.Now().Add(expiryMargin).Unix() > expiresAt
}
