package cask

import (
	"io"

	"go.uber.org/multierr"
)

// Disposable is implemented by services that need teardown when their owning
// scope closes. Instances implementing io.Closer are torn down through Close
// instead; an explicit WithDisposer on the registration overrides both.
type Disposable interface {
	Dispose() error
}

// teardown is one recorded disposal obligation.
type teardown struct {
	key Key
	fn  func() error
}

// disposerFor picks the teardown callback for an instance, or nil when the
// instance needs none.
func disposerFor(val any, override func(any) error) func() error {
	if override != nil {
		return func() error { return override(val) }
	}
	switch d := val.(type) {
	case Disposable:
		return d.Dispose
	case io.Closer:
		return d.Close
	}
	return nil
}

// runTeardowns disposes in reverse registration order. Every entry is
// attempted even after earlier failures; the failures come back aggregated.
func runTeardowns(list []teardown) error {
	var err error
	for i := len(list) - 1; i >= 0; i-- {
		if e := list[i].fn(); e != nil {
			err = multierr.Append(err, ErrDisposal(list[i].key, e))
		}
	}
	return err
}
