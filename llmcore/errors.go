package llmcore

import "fmt"

// ErrorKind is a stable, comparable tag for the dispatch core's error
// taxonomy. It is distinct from the underlying transport/decode error,
// which is always reachable via errors.Unwrap.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_error"
	KindAuthentication      ErrorKind = "authentication_error"
	KindRateLimit           ErrorKind = "rate_limit_error"
	KindModelNotFound       ErrorKind = "model_not_found_error"
	KindProviderServer      ErrorKind = "provider_server_error"
	KindNetwork             ErrorKind = "network_error"
	KindTimeout             ErrorKind = "timeout_error"
	KindProtocol            ErrorKind = "protocol_error"
	KindUnsupportedOp       ErrorKind = "unsupported_operation"
	KindBreakerOpen         ErrorKind = "breaker_open"
	KindNoHealthyProviders  ErrorKind = "no_healthy_providers"
	KindNoDefaultConfig     ErrorKind = "no_default_configuration"
	KindNoProvidersConfig   ErrorKind = "no_providers_configured"
)

// defaultRetryable mirrors the §7 table: only these kinds are retryable
// by default. Individual Error values may still override Retryable
// explicitly (e.g. a 5xx body that looks like a client mistake).
var defaultRetryable = map[ErrorKind]bool{
	KindRateLimit:      true,
	KindProviderServer: true,
	KindNetwork:        true,
	KindTimeout:        true,
}

// Error is the dispatch core's error type. Every error surfaced across a
// package boundary is one of these, carrying a stable Kind plus enough
// context to debug without leaking the wire format to callers who don't
// care about it.
type Error struct {
	Kind       ErrorKind
	Message    string
	Provider   string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		if e.Cause != nil {
			return fmt.Sprintf("[%s] %s (provider=%s): %v", e.Kind, e.Message, e.Provider, e.Cause)
		}
		return fmt.Sprintf("[%s] %s (provider=%s)", e.Kind, e.Message, e.Provider)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error, defaulting Retryable from the kind's default
// classification (§4.4). Callers needing to override call WithRetryable.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: defaultRetryable[kind]}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether err (if it is, or wraps, an *Error) is
// retryable per the dispatch core's classification.
func IsRetryable(err error) bool {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return false
	}
	return e.Retryable
}

// KindOf extracts the ErrorKind from err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}

// MapHTTPStatus classifies an HTTP response status per §4.1/§7's exact
// table. This is the dispatch core's own mapping, distinct from (and
// more granular than) the one used elsewhere in the wider codebase: it
// adds an explicit 404 case and keeps NetworkError as the catch-all for
// anything outside the named bands rather than folding it into
// ProviderServerError.
func MapHTTPStatus(status int, body, provider string) *Error {
	switch {
	case status == 400:
		return NewError(KindValidation, body).WithHTTPStatus(status).WithProvider(provider)
	case status == 401 || status == 403:
		return NewError(KindAuthentication, body).WithHTTPStatus(status).WithProvider(provider)
	case status == 404:
		return NewError(KindModelNotFound, body).WithHTTPStatus(status).WithProvider(provider)
	case status == 429:
		return NewError(KindRateLimit, body).WithHTTPStatus(status).WithProvider(provider)
	case status >= 500 && status < 600:
		return NewError(KindProviderServer, body).WithHTTPStatus(status).WithProvider(provider)
	default:
		return NewError(KindNetwork, body).WithHTTPStatus(status).WithProvider(provider)
	}
}
