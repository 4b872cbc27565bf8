package parsing

import "fmt"

// UnparsableResponseError is returned when no recovery strategy could extract
// a JSON object from a model response. Raw carries the original text for
// logging and debugging.
type UnparsableResponseError struct {
	Raw string
}

func (e *UnparsableResponseError) Error() string {
	return fmt.Sprintf("response could not be parsed as JSON (%d bytes)", len(e.Raw))
}

// APICallError represents an error from a generation API call.
type APICallError struct {
	Message string
	Cause   error
}

func (e *APICallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("API call failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("API call failed: %s", e.Message)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}
