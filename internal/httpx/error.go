package httpx

import "fmt"

// AttemptsError is returned when no exchange could be completed before the
// retry budget ran out.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("httpx: request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
