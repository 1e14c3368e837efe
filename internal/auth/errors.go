package auth

import "fmt"

// ConfigurationError indicates the requested platform is unknown or has
// incomplete client credentials. Callers must not retry.
type ConfigurationError struct {
	Platform string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("auth: platform %s unavailable: %v", e.Platform, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StateError indicates the CSRF state for a callback is missing, expired, or
// already consumed. Callers must restart the authorization flow.
type StateError struct {
	Platform string
	Reason   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Platform, e.Reason)
}

// ExchangeError indicates the vendor rejected the code-for-token exchange.
// Body carries the raw vendor payload for operator diagnosis; vendor error
// payloads never contain token values.
type ExchangeError struct {
	Platform   string
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("auth: %s token exchange failed: %s", e.Platform, e.Body)
	}
	return fmt.Sprintf("auth: %s token exchange failed with status %d: %s", e.Platform, e.StatusCode, e.Body)
}

// RefreshError indicates a token refresh failed. Recoverable failures
// (network, 5xx, rate limits) may be retried by the caller with backoff;
// non-recoverable failures require re-running the authorization flow.
type RefreshError struct {
	Platform    string
	StatusCode  int
	Body        string
	Recoverable bool
	Err         error
}

func (e *RefreshError) Error() string {
	kind := "recoverable"
	if !e.Recoverable {
		kind = "not recoverable"
	}
	if e.Err != nil {
		return fmt.Sprintf("auth: %s token refresh failed (%s): %v", e.Platform, kind, e.Err)
	}
	return fmt.Sprintf("auth: %s token refresh failed (%s, status %d): %s", e.Platform, kind, e.StatusCode, e.Body)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// AuthenticationError indicates there is no usable token for a platform and
// none can be obtained without user interaction.
type AuthenticationError struct {
	Platform string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Platform, e.Reason)
}
