// Package atxperrors defines the typed error taxonomy shared across the
// interceptor, OAuth client, and payment pipeline.
package atxperrors

import (
	"errors"
	"fmt"
)

// Sentinels used with errors.Is for coarse classification.
var (
	// ErrAuthenticationRequired classifies an error as recoverable via the
	// OAuth authorization flow.
	ErrAuthenticationRequired = errors.New("atxp: authentication required")

	// ErrPaymentRequired classifies an error as recoverable via the payment
	// pipeline.
	ErrPaymentRequired = errors.New("atxp: payment required")

	// ErrMultiplePaymentRequired is raised when an MCP response names more
	// than one payment-request record; never retried.
	ErrMultiplePaymentRequired = errors.New("atxp: multiple payment-required records in one response")

	// ErrUnknownAuthorizationServer is raised when the discovered issuer is
	// not present in the caller-configured allow-list.
	ErrUnknownAuthorizationServer = errors.New("atxp: unknown authorization server")

	// ErrInsufficientFunds classifies a PaymentMaker balance failure.
	ErrInsufficientFunds = errors.New("atxp: insufficient funds")

	// ErrPaymentNetwork classifies any other chain-side failure.
	ErrPaymentNetwork = errors.New("atxp: payment network error")

	// ErrSettlementFailed is raised when the settlement PUT returns non-2xx.
	ErrSettlementFailed = errors.New("atxp: settlement failed")

	// ErrDiscoveryFailed, ErrRegistrationFailed, ErrAuthorizeFailed and
	// ErrTokenExchangeFailed classify OAuth subflow failures.
	ErrDiscoveryFailed      = errors.New("atxp: authorization server discovery failed")
	ErrRegistrationFailed   = errors.New("atxp: dynamic client registration failed")
	ErrAuthorizeFailed      = errors.New("atxp: authorize request failed")
	ErrTokenExchangeFailed  = errors.New("atxp: token exchange failed")
	ErrPKCENotFound         = errors.New("atxp: pkce record not found or expired")
	ErrInvalidPaymentAmount = errors.New("atxp: invalid payment amount")
)

// AuthenticationRequiredError carries the resource-server URL that must be
// authorized before the request can be retried.
type AuthenticationRequiredError struct {
	ResourceURL string
	Challenge   string // raw WWW-Authenticate header value, if any
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("atxp: authentication required for resource %q", e.ResourceURL)
}

func (e *AuthenticationRequiredError) Is(target error) bool {
	return target == ErrAuthenticationRequired
}

// PaymentRequiredError carries the parsed payment-request URL and id.
type PaymentRequiredError struct {
	URL string
	ID  string
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("atxp: payment required at %q (id=%s)", e.URL, e.ID)
}

func (e *PaymentRequiredError) Is(target error) bool {
	return target == ErrPaymentRequired
}

// MultiplePaymentRequiredError carries every candidate so the caller can log
// them even though the request is never retried.
type MultiplePaymentRequiredError struct {
	Candidates []PaymentRequiredError
}

func (e *MultiplePaymentRequiredError) Error() string {
	return fmt.Sprintf("atxp: %d payment-required records in one response, refusing to guess", len(e.Candidates))
}

func (e *MultiplePaymentRequiredError) Is(target error) bool {
	return target == ErrMultiplePaymentRequired
}

// UnknownAuthorizationServerError names the issuer that failed the allow-list check.
type UnknownAuthorizationServerError struct {
	Issuer    string
	AllowList []string
}

func (e *UnknownAuthorizationServerError) Error() string {
	return fmt.Sprintf("atxp: authorization server %q is not in the configured allow-list %v", e.Issuer, e.AllowList)
}

func (e *UnknownAuthorizationServerError) Is(target error) bool {
	return target == ErrUnknownAuthorizationServer
}

// InsufficientFundsError is raised by a PaymentMaker when the source address
// cannot cover the requested amount.
type InsufficientFundsError struct {
	Currency  string
	Required  string
	Available string
	Network   string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("atxp: insufficient funds on %s: need %s %s, have %s", e.Network, e.Required, e.Currency, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// PaymentNetworkError wraps any chain-side failure (RPC error, broadcast
// failure, confirmation timeout) with the original cause attached.
type PaymentNetworkError struct {
	Network string
	Cause   error
}

func (e *PaymentNetworkError) Error() string {
	return fmt.Sprintf("atxp: payment network error on %s: %v", e.Network, e.Cause)
}

func (e *PaymentNetworkError) Unwrap() error {
	return e.Cause
}

func (e *PaymentNetworkError) Is(target error) bool {
	return target == ErrPaymentNetwork
}

// SettlementFailedError carries the HTTP status and response body of a
// failed settlement PUT.
type SettlementFailedError struct {
	Status int
	Body   string
}

func (e *SettlementFailedError) Error() string {
	return fmt.Sprintf("atxp: settlement PUT failed with status %d: %s", e.Status, e.Body)
}

func (e *SettlementFailedError) Is(target error) bool {
	return target == ErrSettlementFailed
}

// OAuthSubflowError wraps DiscoveryFailed/RegistrationFailed/AuthorizeFailed/
// TokenExchangeFailed, each tagged with a Stage for logging.
type OAuthSubflowError struct {
	Stage string // "discovery" | "registration" | "authorize" | "token_exchange"
	Cause error
}

func (e *OAuthSubflowError) Error() string {
	return fmt.Sprintf("atxp: oauth %s failed: %v", e.Stage, e.Cause)
}

func (e *OAuthSubflowError) Unwrap() error {
	return e.Cause
}

func (e *OAuthSubflowError) Is(target error) bool {
	switch e.Stage {
	case "discovery":
		return target == ErrDiscoveryFailed
	case "registration":
		return target == ErrRegistrationFailed
	case "authorize":
		return target == ErrAuthorizeFailed
	case "token_exchange":
		return target == ErrTokenExchangeFailed
	}
	return false
}
