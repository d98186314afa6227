package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FailReason categorizes why a model call failed. The retry loop only cares
// about the transient/terminal split; the finer grain feeds logs and the
// user-facing rendering of the conditions the user can act on.
type FailReason string

const (
	// ReasonConnection is a network failure before a response arrived.
	ReasonConnection FailReason = "connection"

	// ReasonTimeout covers client timeouts and the API's request and lock
	// timeout statuses (408, 409).
	ReasonTimeout FailReason = "timeout"

	// ReasonRateLimit is HTTP 429 or an equivalent throttling code.
	ReasonRateLimit FailReason = "rate_limit"

	// ReasonServerError is any 5xx, including 529 overloaded.
	ReasonServerError FailReason = "server_error"

	// ReasonPromptTooLong means the transcript exceeded the context window.
	ReasonPromptTooLong FailReason = "prompt_too_long"

	// ReasonBilling means the account is out of credit.
	ReasonBilling FailReason = "billing"

	// ReasonAuth is a rejected credential.
	ReasonAuth FailReason = "auth"

	// ReasonInvalidRequest is a client-side error that repeating the same
	// call cannot fix.
	ReasonInvalidRequest FailReason = "invalid_request"

	// ReasonUnknown is an unclassified failure, treated as terminal.
	ReasonUnknown FailReason = "unknown"
)

// Retryable reports whether the reason is transient.
func (r FailReason) Retryable() bool {
	switch r {
	case ReasonConnection, ReasonTimeout, ReasonRateLimit, ReasonServerError:
		return true
	default:
		return false
	}
}

// CallError is a structured failure from a model backend. Backends populate
// whatever their SDK surfaces; classification works off the populated subset.
type CallError struct {
	// Provider is the backend name ("anthropic", "openai", "bedrock").
	Provider string

	// Model is the model id that was requested.
	Model string

	// Status is the HTTP status code, if a response arrived.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID identifies the failed request for support purposes.
	RequestID string

	// RetryAfter is the server-specified wait before the next attempt,
	// zero when the server gave none.
	RetryAfter time.Duration

	// RetryHint is the server's explicit retryability verdict, nil when
	// the response carried none. It overrides every status heuristic.
	RetryHint *bool

	// Cause is the underlying error.
	Cause error
}

// NewCallError wraps a backend failure.
func NewCallError(provider, model string, cause error) *CallError {
	return &CallError{Provider: provider, Model: model, Cause: cause}
}

// WithStatus records the HTTP status code.
func (e *CallError) WithStatus(status int) *CallError {
	e.Status = status
	return e
}

// WithCode records the provider error code.
func (e *CallError) WithCode(code string) *CallError {
	e.Code = code
	return e
}

// WithMessage records the provider error message.
func (e *CallError) WithMessage(message string) *CallError {
	e.Message = message
	return e
}

// WithRequestID records the provider request id.
func (e *CallError) WithRequestID(id string) *CallError {
	e.RequestID = id
	return e
}

// WithRetryAfter records the server's wait hint.
func (e *CallError) WithRetryAfter(d time.Duration) *CallError {
	e.RetryAfter = d
	return e
}

// WithRetryHint records the server's explicit retryability verdict.
func (e *CallError) WithRetryHint(retryable bool) *CallError {
	e.RetryHint = &retryable
	return e
}

// Reason classifies the failure from the captured status, code, and text.
func (e *CallError) Reason() FailReason {
	return Classify(e.Status, e.Code, e.text())
}

// Retryable reports whether another attempt could succeed. A server hint
// wins in both directions; otherwise the classified reason decides.
func (e *CallError) Retryable() bool {
	if e.RetryHint != nil {
		return *e.RetryHint
	}
	return e.Reason().Retryable()
}

func (e *CallError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason())}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.RequestID != "" {
		parts = append(parts, "request_id="+e.RequestID)
	}
	if msg := e.text(); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, " ")
}

func (e *CallError) Unwrap() error { return e.Cause }

// text is the best available message for classification and display.
func (e *CallError) text() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return ""
}

// AsCallError extracts a CallError from an error chain.
func AsCallError(err error) (*CallError, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable reports whether another attempt at the failed call could
// succeed. Errors without structure fall back to text classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := AsCallError(err); ok {
		return ce.Retryable()
	}
	return classifyText(err.Error()).Retryable()
}

// RetryAfterHint returns the server-specified wait from the error chain.
func RetryAfterHint(err error) (time.Duration, bool) {
	if ce, ok := AsCallError(err); ok && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}

// ErrorText renders a model-call failure as the conversation-visible text.
// The three conditions the user can act on get fixed strings; everything
// else carries the provider message.
func ErrorText(err error) string {
	if err == nil {
		return "API Error: unknown"
	}
	status, code := 0, ""
	msg := err.Error()
	if ce, ok := AsCallError(err); ok {
		status, code = ce.Status, ce.Code
		msg = ce.text()
	}
	switch Classify(status, code, msg) {
	case ReasonPromptTooLong:
		return "Prompt is too long"
	case ReasonBilling:
		return "Credit balance is too low"
	case ReasonAuth:
		return "Invalid API key"
	}
	if msg == "" {
		return "API Error: unknown"
	}
	return "API Error: " + msg
}

// Classify resolves a failure reason. Message text is consulted first for
// the two conditions the API reports under a plain 400 (oversized prompt,
// exhausted credit), then the provider code, then the status, then the
// remaining text patterns.
func Classify(status int, code, message string) FailReason {
	if r := classifyText(message); r == ReasonPromptTooLong || r == ReasonBilling {
		return r
	}
	if r := classifyCode(code); r != ReasonUnknown {
		return r
	}
	if r := classifyStatus(status); r != ReasonUnknown {
		return r
	}
	return classifyText(message)
}

func classifyStatus(status int) FailReason {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusConflict:
		return ReasonTimeout
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusRequestEntityTooLarge:
		return ReasonPromptTooLong
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyCode(code string) FailReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded",
		"throttlingexception", "toomanyrequestsexception":
		return ReasonRateLimit
	case "overloaded_error", "api_error", "internal_error", "server_error",
		"internalserverexception", "serviceunavailableexception", "modelnotreadyexception":
		return ReasonServerError
	case "timeout_error", "modeltimeoutexception":
		return ReasonTimeout
	case "authentication_error", "invalid_api_key", "permission_error",
		"accessdeniedexception", "unauthorizedexception":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "request_too_large":
		return ReasonPromptTooLong
	case "invalid_request_error", "not_found_error", "validationexception":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

func classifyText(message string) FailReason {
	if message == "" {
		return ReasonUnknown
	}
	s := strings.ToLower(message)

	switch {
	case strings.Contains(s, "prompt is too long"),
		strings.Contains(s, "request_too_large"),
		strings.Contains(s, "exceeds the maximum allowed size"):
		return ReasonPromptTooLong
	case strings.Contains(s, "credit balance"):
		return ReasonBilling
	case strings.Contains(s, "invalid api key"),
		strings.Contains(s, "invalid x-api-key"),
		strings.Contains(s, "authentication"),
		strings.Contains(s, "unauthorized"):
		return ReasonAuth
	case strings.Contains(s, "connection refused"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "broken pipe"),
		strings.Contains(s, "unexpected eof"),
		strings.Contains(s, "eof"):
		return ReasonConnection
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "timed out"),
		strings.Contains(s, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(s, "rate limit"),
		strings.Contains(s, "rate_limit"),
		strings.Contains(s, "too many requests"),
		strings.Contains(s, "throttl"):
		return ReasonRateLimit
	case strings.Contains(s, "overloaded"),
		strings.Contains(s, "internal server"),
		strings.Contains(s, "server error"),
		strings.Contains(s, "service unavailable"),
		strings.Contains(s, "bad gateway"):
		return ReasonServerError
	case strings.Contains(s, "billing"),
		strings.Contains(s, "quota"),
		strings.Contains(s, "payment"):
		return ReasonBilling
	default:
		return ReasonUnknown
	}
}

// ParseRetryAfter extracts a "retry-after: N" hint from provider error
// text. Servers quote whole seconds.
func ParseRetryAfter(message string) (time.Duration, bool) {
	s := strings.ToLower(message)
	idx := strings.Index(s, "retry-after")
	if idx < 0 {
		idx = strings.Index(s, "retry_after")
	}
	if idx < 0 {
		return 0, false
	}
	rest := s[idx+len("retry-after"):]
	start := strings.IndexFunc(rest, func(r rune) bool { return r >= '0' && r <= '9' })
	if start < 0 {
		return 0, false
	}
	var secs int64
	for _, r := range rest[start:] {
		if r < '0' || r > '9' {
			break
		}
		secs = secs*10 + int64(r-'0')
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
