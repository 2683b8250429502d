package helius

import (
	"fmt"
	"net/http"
)

// PlaceholderAPIKey is the value shipped in example env files.
const PlaceholderAPIKey = "your_helius_api_key_here"

// ConfigError reports a missing or unusable Helius credential. It is returned
// before any request is made.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "helius configuration error: " + e.Reason
}

// ValidateAPIKey rejects empty and placeholder API keys.
func ValidateAPIKey(key string) error {
	switch key {
	case "":
		return &ConfigError{Reason: "API key is not set"}
	case PlaceholderAPIKey:
		return &ConfigError{Reason: "API key is still the placeholder value"}
	}
	return nil
}

// FetchError is returned when a Helius request fails. StatusCode is 0 when
// the request never produced a response; Err then holds the transport error.
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("helius request failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("helius API error: status %d: %v", e.StatusCode, e.Err)
	case e.Body == "":
		return fmt.Sprintf("helius API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("helius API error: status %d: %s", e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request could succeed.
func (e *FetchError) Temporary() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
