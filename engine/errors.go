package engine

import (
	"errors"
	"fmt"
)

// ErrConfig marks missing or malformed configuration. It is fatal at start:
// the completion callback reports it and the engine never reaches RUNNING.
var ErrConfig = errors.New("invalid configuration")

// ErrTask marks an error raised by the connector task; the original error is
// attached to the chain.
var ErrTask = errors.New("task failed")

func configErrorf(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, v...))
}
