package canonical

import "fmt"

// CanonicalizationError reports input that is not a valid structured value.
type CanonicalizationError struct {
	// Path locates the offending element, e.g. "$.payload.items[2]".
	Path   string
	Reason string
	Err    error
}

func (e *CanonicalizationError) Error() string {
	msg := "canonicalize"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CanonicalizationError) Unwrap() error { return e.Err }

func errorf(path string, err error, format string, args ...any) *CanonicalizationError {
	return &CanonicalizationError{Path: path, Reason: fmt.Sprintf(format, args...), Err: err}
}
