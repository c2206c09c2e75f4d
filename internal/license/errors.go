package license

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrProductUnavailable = errors.New("product not found or inactive")
	ErrLicenseNotFound    = errors.New("license not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrProductExists      = errors.New("product name already exists")
	// ErrConflict is a tuple race that survived the retry; safe for the caller to repeat.
	ErrConflict = errors.New("concurrent activation, retry")
)

// NonFieldErrors keys messages that do not belong to a single input field.
const NonFieldErrors = "non_field_errors"

// ValidationError carries per-field messages. Nothing was written when it is returned.
type ValidationError struct {
	Fields map[string][]string
	cause  error
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.cause }

func fieldError(field string, cause error) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {cause.Error()}}, cause: cause}
}

// IsClientError reports errors caused by caller input rather than the server.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
