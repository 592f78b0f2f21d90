package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestIsTokenExpired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{
			name:      "expired in the past",
			expiresAt: time.Now().Add(-1 * time.Hour).Unix(),
			want:      true,
		},
		{
			name:      "expires in 1 minute (within 5 min threshold)",
			expiresAt: time.Now().Add(1 * time.Minute).Unix(),
			want:      true,
		},
		{
			name:      "expires in 10 minutes (beyond threshold)",
			expiresAt: time.Now().Add(10 * time.Minute).Unix(),
			want:      false,
		},
		{
			name:      "unknown expiry",
			expiresAt: 0,
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTokenExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsTokenExpired(%d) = %v, want %v", tt.expiresAt, got, tt.want)
			}
		})
	}
}

func TestTokenConversion(t *testing.T) {
	t.Parallel()

	expiry := time.Now().Add(1 * time.Hour)
	stored := &TokenResponse{
		AccessToken:  "access_token",
		RefreshToken: "refresh_token",
		ExpiresAt:    expiry.Unix(),
		TokenType:    "Bearer",
	}

	converted := stored.ToOAuth2Token()
	if converted.AccessToken != "access_token" || converted.RefreshToken != "refresh_token" {
		t.Errorf("unexpected converted token %+v", converted)
	}
	if converted.Expiry.Unix() != expiry.Unix() {
		t.Errorf("expected expiry %v, got %v", expiry, converted.Expiry)
	}

	back := TokenFromOAuth2(converted)
	if *back != *stored {
		t.Errorf("round-trip mismatch: got %+v, want %+v", back, stored)
	}

	if got := TokenFromOAuth2(&oauth2.Token{AccessToken: "a"}); got.ExpiresAt != 0 {
		t.Errorf("zero expiry should stay zero, got %d", got.ExpiresAt)
	}
}

func TestStravaOAuthConfig(t *testing.T) {
	t.Parallel()

	config := StravaOAuthConfig("test_client_id", "test_client_secret")

	if config.ClientID != "test_client_id" {
		t.Errorf("expected client_id 'test_client_id', got %q", config.ClientID)
	}
	if config.Endpoint.TokenURL != "https://www.strava.com/oauth/token" {
		t.Errorf("unexpected token URL: %q", config.Endpoint.TokenURL)
	}
	if config.Endpoint.AuthStyle != oauth2.AuthStyleInParams {
		t.Errorf("expected credentials in params, got %v", config.Endpoint.AuthStyle)
	}
	if config.RedirectURL != "http://localhost:8089/callback" {
		t.Errorf("unexpected redirect URL: %q", config.RedirectURL)
	}
}

// newTokenServer fakes the token endpoint, answering refresh grants with the
// given access token.
func newTokenServer(t *testing.T, access string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			http.Error(w, "unexpected grant", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != "id" || r.PostForm.Get("client_secret") != "secret" {
			http.Error(w, `{"message":"Bad Request"}`, http.StatusUnauthorized)
			return
		}
		if r.PostForm.Get("refresh_token") == "" {
			http.Error(w, "missing refresh token", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "rotated-" + r.PostForm.Get("refresh_token"),
			"token_type":    "Bearer",
			"expires_in":    21600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tokenURL string) *oauth2.Config {
	config := StravaOAuthConfig("id", "secret")
	config.Endpoint.TokenURL = tokenURL
	return config
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newTokenServer(t, "fresh-access", &calls)

	tokens, err := Refresh(context.Background(), testConfig(srv.URL), "seed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens.AccessToken != "fresh-access" {
		t.Errorf("expected fresh-access, got %q", tokens.AccessToken)
	}
	if tokens.RefreshToken != "rotated-seed" {
		t.Errorf("expected rotated refresh token, got %q", tokens.RefreshToken)
	}
	if IsTokenExpired(tokens.ExpiresAt) {
		t.Errorf("expected a token valid for hours, expires_at=%d", tokens.ExpiresAt)
	}
}

func TestRefreshErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newTokenServer(t, "unused", &calls)

	if _, err := Refresh(context.Background(), testConfig(srv.URL), ""); err == nil {
		t.Error("expected error for empty refresh token")
	}
	if calls.Load() != 0 {
		t.Errorf("empty refresh token should not reach the server, got %d calls", calls.Load())
	}

	config := testConfig(srv.URL)
	config.ClientSecret = "wrong"
	_, err := Refresh(context.Background(), config, "seed")
	if err == nil || !strings.Contains(err.Error(), "token refresh failed") {
		t.Errorf("expected refresh failure, got %v", err)
	}
}
