package feed

import "fmt"

// FetchError is returned when the archive could not be retrieved from the
// provider. StatusCode is zero when the request never got a response, e.g.
// timeouts, DNS or connection failures.
type FetchError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed download failed: unexpected status code: %d (%s)", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("feed download failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError is returned when the archive is not a readable container or
// it does not hold a markup document.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("archive extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
