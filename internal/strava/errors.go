package strava

import (
	"errors"
	"fmt"
)

// ErrPageLimit is returned when pagination runs past Client.MaxPages
// without reaching an empty page.
var ErrPageLimit = errors.New("strava: page limit reached before end of activity history")

// ErrRateLimited indicates the API returned a 429 after retries were exhausted
var ErrRateLimited = errors.New("strava: rate limited")

// AuthError means the access token was rejected. It is not retryable without
// re-authorizing.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("strava: %s: access token invalid or expired", e.Message)
}

// RequestError means the API rejected the request parameters. The usual
// cause is a page size above what the API accepts.
type RequestError struct {
	Message  string
	PageSize int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("strava: %s: per_page=%d rejected, try a smaller page size", e.Message, e.PageSize)
}

// UnknownError carries any other upstream failure.
type UnknownError struct {
	Message    string
	StatusCode int
	Page       int
}

func (e *UnknownError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unexpected response"
	}
	switch {
	case e.Page > 1 && e.StatusCode != 0:
		return fmt.Sprintf("strava: %s (status %d, page %d)", msg, e.StatusCode, e.Page)
	case e.Page > 1:
		return fmt.Sprintf("strava: %s (page %d)", msg, e.Page)
	case e.StatusCode != 0:
		return fmt.Sprintf("strava: %s (status %d)", msg, e.StatusCode)
	}
	return "strava: " + msg
}

// classify maps an API error payload to a typed error. Only the first page a
// fetch requests is classified; later pages are always UnknownError.
func classify(message string, first bool, page, pageSize, status int) error {
	if !first {
		return &UnknownError{Message: message, StatusCode: status, Page: page}
	}
	switch message {
	case "Authorization Error":
		return &AuthError{Message: message}
	case "Bad Request":
		return &RequestError{Message: message, PageSize: pageSize}
	}
	return &UnknownError{Message: message, StatusCode: status, Page: page}
}
