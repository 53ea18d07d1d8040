// Package banking is the OAuth2 open-banking gateway client: consent
// authorization with PKCE, token refresh and bank API data retrieval.
package banking

import (
	"errors"
	"fmt"
)

var (
	// ErrCodeExchange is wrapped by the ProviderError of a failed code exchange
	ErrCodeExchange = errors.New("authorization code exchange failed")
	// ErrTokenRefresh is wrapped by the ProviderError of a failed refresh
	ErrTokenRefresh = errors.New("token refresh failed")
	// ErrNoRefreshToken is returned when an expiring consent cannot be refreshed
	ErrNoRefreshToken = errors.New("consent has no refresh token")
	// ErrReauthorizationRequired means the user must grant consent again
	ErrReauthorizationRequired = errors.New("bank reauthorization required")
	// ErrUnknownBank is returned for a bank code without configuration
	ErrUnknownBank = errors.New("unknown bank")
	// ErrInvalidState is returned when the OAuth state is forged, expired or
	// belongs to another tenant
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrConsentNotFound is returned when a tenant has not connected the bank
	ErrConsentNotFound = errors.New("consent not found")
)

// ProviderError is a failed call to a bank's OAuth endpoint
type ProviderError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// APIError is a non-2xx response of a bank data API
type APIError struct {
	Status    int
	Body      string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bank API error: status=%d request_id=%s body=%s", e.Status, e.RequestID, e.Body)
}

// IsAuthError reports whether the token was rejected
func (e *APIError) IsAuthError() bool {
	return e.Status == 401 || e.Status == 403
}

// IsRetryable reports whether the call may succeed later
func (e *APIError) IsRetryable() bool {
	return e.Status >= 500 || e.Status == 429
}

// AuthorizationDeniedError is returned when the user declined consent at the bank
type AuthorizationDeniedError struct {
	TenantID    int64
	Bank        string
	Code        string
	Description string
}

func (e *AuthorizationDeniedError) Error() string {
	msg := fmt.Sprintf("authorization denied for bank %s: %s", e.Bank, e.Code)
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}
