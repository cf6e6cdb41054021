// Package errs classifies failures so callers can pick a policy: retry with
// backoff, skip the slot, reconnect, or abort the process.
package errs

import "github.com/pkg/errors"

// TransientError marks a failure that is expected to resolve on its own,
// such as a network fault or an execution client lagging behind the beacon
// chain. Transient errors are retried with backoff.
type TransientError struct {
	err error
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{err: err}
}

func Transientf(format string, args ...interface{}) error {
	return &TransientError{err: errors.Errorf(format, args...)}
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// PermanentError marks a failure that retrying cannot fix, such as
// structurally inconsistent chain data or a rejected request.
type PermanentError struct {
	err error
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{err: err}
}

func Permanentf(format string, args ...interface{}) error {
	return &PermanentError{err: errors.Errorf(format, args...)}
}

func (e *PermanentError) Error() string { return e.err.Error() }
func (e *PermanentError) Unwrap() error { return e.err }

// ValidationError marks structurally malformed slot data. It is fatal for
// that slot: re-fetching would reproduce identical input.
type ValidationError struct {
	err error
}

func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{err: err}
}

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{err: errors.Errorf(format, args...)}
}

func (e *ValidationError) Error() string { return e.err.Error() }
func (e *ValidationError) Unwrap() error { return e.err }

// AuthError marks a credential failure against the downstream API. Sustained
// auth failures are escalated to process-fatal.
type AuthError struct {
	err error
}

func Auth(err error) error {
	if err == nil {
		return nil
	}
	return &AuthError{err: err}
}

func (e *AuthError) Error() string { return e.err.Error() }
func (e *AuthError) Unwrap() error { return e.err }

// ConfigError marks invalid configuration or arguments, fatal at startup.
type ConfigError struct {
	err error
}

func Config(err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{err: err}
}

func Configf(format string, args ...interface{}) error {
	return &ConfigError{err: errors.Errorf(format, args...)}
}

func (e *ConfigError) Error() string { return e.err.Error() }
func (e *ConfigError) Unwrap() error { return e.err }

// SubscriptionError marks a fault on the head-event stream: a broken
// connection, a stale subscription, or a dispatch failure. It triggers a
// full reconnect cycle.
type SubscriptionError struct {
	err error
}

func Subscription(err error) error {
	if err == nil {
		return nil
	}
	return &SubscriptionError{err: err}
}

func Subscriptionf(format string, args ...interface{}) error {
	return &SubscriptionError{err: errors.Errorf(format, args...)}
}

func (e *SubscriptionError) Error() string { return e.err.Error() }
func (e *SubscriptionError) Unwrap() error { return e.err }

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsAuth(err error) bool {
	var a *AuthError
	return errors.As(err, &a)
}

func IsConfig(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}

func IsSubscription(err error) bool {
	var s *SubscriptionError
	return errors.As(err, &s)
}
