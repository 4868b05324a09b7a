package utils

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrExec runs the functions concurrently and blocks until every one has
// returned, yielding the first error. Unlike a plain errgroup over a shared
// context, a failing function does not cancel its siblings; the engine uses
// this to join its worker and consumer, which must both run to completion.
func ErrExec(functions ...func() error) error {
	group, _ := errgroup.WithContext(context.Background())
	for _, one := range functions {
		group.Go(one)
	}

	return group.Wait()
}

// ErrExecSequential runs the functions in order, never short-circuiting, and
// collects every failure. Used for teardown where each resource must get its
// stop call regardless of how the previous one fared.
func ErrExecSequential(functions ...func() error) error {
	var multErr error
	for _, one := range functions {
		err := one()
		if err != nil {
			multErr = multierror.Append(multErr, err)
		}
	}

	return multErr
}

// ErrExecFormat wraps a function so its error carries the given context.
func ErrExecFormat(format string, function func() error) func() error {
	return func() error {
		if err := function(); err != nil {
			return fmt.Errorf(format, err)
		}

		return nil
	}
}
