package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// ConfigError is fatal: no partial apply is attempted when the desired
// configuration itself is invalid (cycles, unresolved references).
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Msg
}

// CycleError reports a dependency cycle, naming its members.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Members, " -> "))
}

// ProviderError wraps a failure from the cloud resource provider. Transient
// errors (throttling, eventual-consistency lag) are retried; permanent ones
// halt the dependent subtree only.
type ProviderError struct {
	Address   string
	Op        string // "create", "update", "delete", "read"
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error during %s of %s: %v", kind, e.Op, e.Address, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError means a resource never reached ready state within its bounded
// wait. Retryable up to the attempt limit, then surfaced.
type TimeoutError struct {
	Address string
	Waited  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resource %s did not become ready within %s", e.Address, e.Waited)
}

// IsTransient reports whether an error should be retried. It understands the
// local taxonomy, AWS API error codes, and common throttling/network message
// patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded",
			"TooManyRequestsException", "ServiceUnavailable", "RequestTimeout":
			return true
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"throttl",
		"rate exceed",
		"too many requests",
		"request limit",
		"service unavailable",
		"internal server error",
		"connection reset",
		"connection refused",
		"timeout",
		"tls handshake",
		"i/o timeout",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
