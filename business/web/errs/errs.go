// Package errs provides types and support related to web v1 functionality.
package errs

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewTrusted(err error, status int) error {
	return &Trusted{err, status}
}

// Error implements the error interface. It uses the default message of the
// wrapped error. This is what will be shown in the services' logs.
func (re *Trusted) Error() string {
	return re.Err.Error()
}

// Unwrap returns the wrapped error.
func (re *Trusted) Unwrap() error {
	return re.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var re *Trusted
	return errors.As(err, &re)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var re *Trusted
	if !errors.As(err, &re) {
		return nil
	}
	return re
}

// =============================================================================

// Rule maps a class of domain errors onto a status code.
type Rule struct {
	Match  func(error) bool
	Status int
}

// Is returns a rule matching any error that wraps target.
func Is(target error, status int) Rule {
	return Rule{
		Match:  func(err error) bool { return errors.Is(err, target) },
		Status: status,
	}
}

// Classify wraps err as a trusted error with the status of the first rule
// it matches. Errors matching no rule are returned unchanged and reported
// as internal failures by the error middleware.
func Classify(err error, rules ...Rule) error {
	if err == nil || IsTrusted(err) {
		return err
	}

	for _, rule := range rules {
		if rule.Match(err) {
			return NewTrusted(err, rule.Status)
		}
	}

	return err
}

// BadRequest marks err as a failure of the request itself.
func BadRequest(err error) error {
	return NewTrusted(err, http.StatusBadRequest)
}
