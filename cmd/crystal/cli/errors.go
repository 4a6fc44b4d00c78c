package cli

// SilentError wraps an error whose message has already been printed to the
// user. main.go skips printing these to avoid duplicate output.
type SilentError struct {
	err error
}

// NewSilentError wraps err so main.go suppresses its default error printing.
func NewSilentError(err error) *SilentError {
	return &SilentError{err: err}
}

func (e *SilentError) Error() string {
	return e.err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.err
}
