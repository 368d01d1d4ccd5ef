package checkin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errMissingToken  = errors.New("cin is required")
	errMissingFields = errors.New("missing required fields")

	// ErrBrokerUnavailable means the broker could not be reached in time, so
	// it is unknown whether the patient already exists centrally.
	ErrBrokerUnavailable = errors.New("integration broker unavailable")
)

type ValidationError struct {
	reason error
	// Fields lists missing required fields by their exchange names.
	Fields []string
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.reason.Error(), strings.Join(e.Fields, ", "))
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

// MissingToken reports whether the request lacked an identity token.
func (e ValidationError) MissingToken() bool {
	return errors.Is(e.reason, errMissingToken)
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// UpstreamError is returned when the broker answered a search with a status
// the workflow cannot interpret.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker returned unexpected status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("broker returned unexpected status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
