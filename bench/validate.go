package bench

import (
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/weiihann/httpbench/client"
)

const maxBodyInError = 128

// FatalError reports an outcome that invalidates the run: an unexpected
// status or a transport failure.
type FatalError struct {
	Path   string
	Status int
	Body   string
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("GET %s: %v", e.Path, e.Cause)
	}

	return fmt.Sprintf("GET %s: unexpected status %d: %q",
		e.Path, e.Status, e.Body)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// Validate accepts an outcome only when it resolved with 200 OK.
func Validate(out client.Outcome) error {
	if out.Err != nil {
		return &FatalError{Path: out.Task.Path(), Cause: out.Err}
	}

	if out.Status != http.StatusOK {
		return &FatalError{
			Path:   out.Task.Path(),
			Status: out.Status,
			Body:   truncate(out.Body, maxBodyInError),
		}
	}

	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}

// TeardownError is returned alongside a successful Result when the server
// could not be stopped cleanly.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return "teardown: " + e.Err.Error()
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}
