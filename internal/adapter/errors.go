package adapter

import "fmt"

// AdapterError wraps a browser failure with the operation and page it hit
type AdapterError struct {
	Op      string // Operation that failed (e.g., "Navigate", "ClickReveal")
	URL     string
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("browser adapter error [%s %s]: %v (details: %+v)", e.Op, e.URL, e.Err, e.Details)
	}
	return fmt.Sprintf("browser adapter error [%s %s]: %v", e.Op, e.URL, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(op, url string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Op:      op,
		URL:     url,
		Err:     err,
		Details: details,
	}
}
