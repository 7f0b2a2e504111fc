package faults

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a widget-core failure.
type Kind string

const (
	KindPermissionDenied       Kind = "permission_denied"
	KindTransportError         Kind = "transport_error"
	KindTimeout                Kind = "timeout"
	KindUnsupportedEnvironment Kind = "unsupported_environment"
	KindSendFailure            Kind = "send_failure"
)

// Fault carries a classified error through the session pipeline.
type Fault struct {
	Kind   Kind
	Source string
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s (%s)", f.Kind, f.Source)
	}
	return fmt.Sprintf("%s (%s): %s", f.Kind, f.Source, f.Detail)
}

func (f *Fault) Unwrap() error { return f.Err }

// New builds a Fault with the given classification.
func New(kind Kind, source, detail string) *Fault {
	return &Fault{Kind: kind, Source: source, Detail: detail}
}

// Wrap builds a Fault around an underlying error.
func Wrap(kind Kind, source string, err error) *Fault {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Source: source, Detail: err.Error(), Err: err}
}

// KindOf extracts the Kind from err, defaulting to transport_error for
// unclassified failures.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransportError
}

// Recoverable reports whether the session can survive the fault. Timeout
// always ends the session cleanly; an unsupported environment disables the
// feature entirely.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindPermissionDenied, KindTransportError, KindSendFailure:
		return true
	default:
		return false
	}
}

// Retryable reports whether the failed operation is worth retrying as-is.
func Retryable(kind Kind) bool {
	switch kind {
	case KindTransportError, KindSendFailure:
		return true
	default:
		return false
	}
}

// IsRetryableCloseCode classifies websocket close codes that justify a
// reconnect attempt.
func IsRetryableCloseCode(code int) bool {
	switch code {
	case 1001, 1006, 1011, 1012, 1013:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
