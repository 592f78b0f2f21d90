package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoTokens is returned when the token file does not exist.
var ErrNoTokens = errors.New("no stored tokens")

// TokenFile persists tokens as JSON on disk.
type TokenFile struct {
	Path string
}

// NewTokenFile returns a TokenFile at path.
func NewTokenFile(path string) *TokenFile {
	return &TokenFile{Path: path}
}

// Load reads the stored tokens. The file must at least carry an access token.
func (f *TokenFile) Load() (*TokenResponse, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoTokens
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tokens TokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", f.Path, err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token file %s has no access_token", f.Path)
	}
	return &tokens, nil
}

// Save writes tokens with owner-only permissions. The file is replaced by
// rename, so a concurrent Load sees either the old or the new tokens.
func (f *TokenFile) Save(tokens *TokenResponse) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	// CreateTemp opens the file 0600
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// ValidAccessToken returns the stored access token if it is not about to
// expire, otherwise refreshes it and persists the new tokens. seedRefresh is
// used when no token file exists yet.
func ValidAccessToken(ctx context.Context, config *oauth2.Config, file *TokenFile, seedRefresh string) (string, error) {
	tokens, err := file.Load()
	switch {
	case errors.Is(err, ErrNoTokens):
		tokens = &TokenResponse{RefreshToken: seedRefresh}
	case err != nil:
		return "", err
	case !IsTokenExpired(tokens.ExpiresAt):
		return tokens.AccessToken, nil
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = seedRefresh
	}

	fresh, err := Refresh(ctx, config, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}

	if err := file.Save(fresh); err != nil {
		return "", fmt.Errorf("saving refreshed tokens: %w", err)
	}
	return fresh.AccessToken, nil
}

// TokenProvider adapts ValidAccessToken for callers that need a token on
// demand. Calls are serialized so concurrent callers refresh at most once.
type TokenProvider struct {
	Config      *oauth2.Config
	File        *TokenFile
	SeedRefresh string

	mu sync.Mutex
}

// AccessToken returns a valid access token.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ValidAccessToken(ctx, p.Config, p.File, p.SeedRefresh)
}
