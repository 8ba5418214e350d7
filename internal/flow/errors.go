package flow

import (
	"errors"
	"fmt"
)

// Kind classifies why a flow operation failed. Values are stable and safe to
// show to clients.
type Kind string

const (
	KindMissingParameter Kind = "missing_parameter"
	KindProviderDenied   Kind = "provider_denied"
	KindProviderError    Kind = "provider_error"
	KindUnknownUser      Kind = "unknown_user"
	KindStateMismatch    Kind = "state_mismatch"
	KindExchangeFailed   Kind = "exchange_failed"
	KindNoEmail          Kind = "no_email"
	KindDomainRejected   Kind = "domain_rejected"
	KindStoreError       Kind = "store_error"
	KindNotFound         Kind = "not_found"
)

// Failure is the typed error returned by Start and Complete.
// Reason is a human-readable message with no tokens or secrets in it.
// Err is the underlying cause, for logs only.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(kind Kind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the failure kind carried by err, or "" if err is not a *Failure.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
