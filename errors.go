package bailian

import "fmt"

// ValidationError reports a bad builder or client input. It is recorded
// at the call site that supplied the value and surfaced unchanged by
// every later invocation of the same builder.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ModelCallError wraps a failure of the underlying model invocation.
// Memory and audit subsystem failures never produce one; only the model
// call itself does.
type ModelCallError struct {
	Err error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call failed: %v", e.Err)
}

func (e *ModelCallError) Unwrap() error {
	return e.Err
}
