package errors

import (
	"fmt"
)

// Recover runs fn, which calls into code the daemon does not control (client
// callbacks, collaborator hooks), and converts a panic into a CALLBACK_FAILED
// error. A returned error is wrapped with the same code.
func Recover(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = New(ErrCodeCallbackFailed, fmt.Sprintf("%s panicked: %v", name, r)).
				WithDetail("callback", name)
		}
	}()

	if callErr := fn(); callErr != nil {
		return Wrap(callErr, ErrCodeCallbackFailed, fmt.Sprintf("%s failed", name)).
			WithDetail("callback", name)
	}
	return nil
}
