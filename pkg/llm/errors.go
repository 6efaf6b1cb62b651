package llm

import (
	"errors"
	"fmt"
)

// ProviderError covers transport, auth, and timeout failures on a model call.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }

// MalformedResponseError means the provider answered but its structured
// output could not be parsed.
type MalformedResponseError struct {
	Provider string
	Detail   string
}

func (e MalformedResponseError) Error() string {
	return fmt.Sprintf("provider %s: malformed response: %s", e.Provider, e.Detail)
}

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe ProviderError
	return errors.As(err, &pe)
}

// IsMalformedResponse reports whether err is (or wraps) a MalformedResponseError.
func IsMalformedResponse(err error) bool {
	var me MalformedResponseError
	return errors.As(err, &me)
}
