package cache

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrSkipRow is returned by row mappers to drop the current row. The cache
	// logs the reason at debug level and continues with the next row.
	ErrSkipRow = errors.New("row skipped")

	// ErrSkipObject is returned by the row mapper of a CompositeCache to drop
	// the whole object the current row belongs to, not just the row.
	ErrSkipObject = errors.New("object skipped")

	// ErrCanceled marks population errors caused by context cancellation.
	ErrCanceled = errors.New("population canceled")
)

// Skip returns an ErrSkipRow error carrying a diagnostic message.
func Skip(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrSkipRow)
}

// SkipObject returns an error that drops the current row and the object
// being assembled from it. It also matches ErrSkipRow.
func SkipObject(format string, args ...any) error {
	return errors.Mark(Skip(format, args...), ErrSkipObject)
}

// IsSkip reports whether err asks the cache to drop a row.
func IsSkip(err error) bool {
	return errors.Is(err, ErrSkipRow)
}

// IsCanceled reports whether err stems from cancellation rather than failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func canceled(err error) error {
	if errors.Is(err, ErrCanceled) {
		return err
	}
	return errors.Mark(err, ErrCanceled)
}
