// Package validation provides the parameter checks applied when limiters,
// middleware and store clients are constructed.
package validation

import (
	"reflect"
	"time"

	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return gferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that an integer value is >= 0.
func ValidateNonNegative(module, field string, value int) error {
	if value < 0 {
		return gferrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateWindow validates a rate-limit window. Windows are counted in
// whole milliseconds, so anything shorter than 1ms is rejected.
func ValidateWindow(module, field string, value time.Duration) error {
	if value < time.Millisecond {
		return gferrors.NewValidationError(module, field, value, "must be at least 1ms").
			WithHint("windows are aligned on millisecond boundaries")
	}
	return nil
}

// ValidatePositiveDuration validates that a duration is > 0.
func ValidatePositiveDuration(module, field string, value time.Duration) error {
	if value <= 0 {
		return gferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("use a duration such as 500ms or 5s")
	}
	return nil
}

// ValidatePort validates a TCP port number.
func ValidatePort(module, field string, value int) error {
	if value <= 0 || value > 65535 {
		return gferrors.NewValidationError(module, field, value, "must be between 1 and 65535")
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil, including
// typed nil pointers, funcs and maps stored in the interface.
func ValidateNotNil(module, field string, value interface{}) error {
	if isNil(value) {
		return gferrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return gferrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

func isNil(value interface{}) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Interface, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}
