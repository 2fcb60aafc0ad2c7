package dbrest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for common failure scenarios
var (
	// ErrInvalidOption is matched by every *InvalidOptionError.
	ErrInvalidOption = errors.New("dbrest: invalid option")

	// ErrInvalidBinding is matched by every *InvalidBindingError.
	ErrInvalidBinding = errors.New("dbrest: invalid binding")

	// ErrIncompatibleBinding is matched by every *IncompatibleBindingError.
	ErrIncompatibleBinding = errors.New("dbrest: incompatible binding")

	// ErrServer is matched by every *ServerError.
	ErrServer = errors.New("dbrest: server error")

	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("dbrest: transport error")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("dbrest: circuit open")

	// ErrRateLimited is returned when a request is denied due to rate limiting
	ErrRateLimited = errors.New("dbrest: rate limited")

	// ErrRetryBudgetExceeded is returned when retry budget is exhausted
	ErrRetryBudgetExceeded = errors.New("dbrest: retry budget exceeded")
)

// Transport error types.
const (
	ErrorTypeNetwork             = "Network"
	ErrorTypeTimeout             = "Timeout"
	ErrorTypeRateLimit           = "RateLimit"
	ErrorTypeCircuitOpen         = "CircuitOpen"
	ErrorTypeRetryBudgetExceeded = "RetryBudgetExceeded"
	ErrorTypeDecode              = "Decode"
)

// ConfigError lists every problem found by Client.ValidateConfiguration.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "dbrest: invalid client configuration: " + strings.Join(e.Problems, "; ")
}

// InvalidOptionError reports an option value outside its legal set. It is
// returned before any request is built.
type InvalidOptionError struct {
	Operation string
	Option    string
	Value     string
	Allowed   []string
}

func (e *InvalidOptionError) Error() string {
	msg := fmt.Sprintf("dbrest: %s: invalid %s %q", e.Operation, e.Option, e.Value)
	if len(e.Allowed) > 0 {
		msg += fmt.Sprintf(" (allowed: %v)", e.Allowed)
	}
	return msg
}

// Is matches ErrInvalidOption.
func (e *InvalidOptionError) Is(target error) bool {
	return target == ErrInvalidOption
}

// InvalidBindingError reports a malformed binding.
type InvalidBindingError struct {
	Name   string
	Reason string
}

func (e *InvalidBindingError) Error() string {
	return fmt.Sprintf("dbrest: invalid binding %q: %s", e.Name, e.Reason)
}

// Is matches ErrInvalidBinding.
func (e *InvalidBindingError) Is(target error) bool {
	return target == ErrInvalidBinding
}

// IncompatibleBindingError reports a binding carrying both a datatype and a
// language tag where the datatype is not "string".
type IncompatibleBindingError struct {
	Name string
	Type string
	Lang string
}

func (e *IncompatibleBindingError) Error() string {
	return fmt.Sprintf("dbrest: binding %q cannot combine type %q with lang %q", e.Name, e.Type, e.Lang)
}

// Is matches ErrIncompatibleBinding.
func (e *IncompatibleBindingError) Is(target error) bool {
	return target == ErrIncompatibleBinding
}

// ServerError is a response whose status is not valid for its operation.
// Body holds the decoded error body (JSON value or *XMLNode) or the raw text.
type ServerError struct {
	Operation   string
	StatusCode  int
	ContentType string
	Message     string
	Body        any
	Raw         []byte
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("dbrest: %s: server responded %d %s", e.Operation, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is matches ErrServer.
func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// TransportError describes a failure of the HTTP exchange itself or of
// decoding its response.
type TransportError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Operation  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches ErrTransport, the sentinel of its type, and other
// *TransportError values of the same Type.
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrTransport:
		return true
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimit
	case ErrRetryBudgetExceeded:
		return e.Type == ErrorTypeRetryBudgetExceeded
	}
	if targetErr, ok := target.(*TransportError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *TransportError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Operation != "" {
		info += fmt.Sprintf("Operation: %s\n", e.Operation)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for network errors, timeouts, open circuits, rate limiting and
// 5xx/429 server responses. Validation, binding and decode errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode == http.StatusTooManyRequests || serverErr.StatusCode >= 500
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		switch transportErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout:
			return true
		}
	}

	return false
}
