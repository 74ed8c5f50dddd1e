package memo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound reports a missing or expired key from Lookup.
	ErrNotFound = errors.New("memo: key not found")
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("memo: fetch timed out")
	// ErrUnsupportedValue is returned by Put for values that are not scalars.
	ErrUnsupportedValue = errors.New("memo: unsupported value type")

	errNilFetch = errors.New("memo: get or fetch requires a callback")
)

// DecodeError reports a stored value that could not be converted to the requested type.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("memo: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FetchError wraps a failure returned by a GetOrFetch producer.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("memo: fetch %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TimeoutError reports a producer that did not finish before its deadline.
type TimeoutError struct {
	Key   string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("memo: fetch %q timed out after %s", e.Key, e.After)
	}
	return fmt.Sprintf("memo: fetch %q timed out", e.Key)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// StoreError wraps a failure from the backing store. The cache never retries these.
type StoreError struct {
	Op     string
	Driver Driver
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("memo: %s store %s: %v", e.Driver, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
