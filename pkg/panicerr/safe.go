// Package panicerr converts panics in handler goroutines into ordinary
// errors so one misbehaving handler cannot take down the process.
package panicerr

import (
	"github.com/sourcegraph/conc/panics"
)

// Safe wraps fn, catching any panic and returning it as an error with the
// recovered stack attached.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}
