package ratelimit

import (
	"errors"
	"fmt"
)

// Configuration faults. They are reported at construction time and are
// fatal at startup; none of them is produced per request.
var (
	ErrConfiguration     = errors.New("ratelimit: invalid configuration")
	ErrInvalidRule       = fmt.Errorf("%w: invalid rule", ErrConfiguration)
	ErrInvalidPattern    = fmt.Errorf("%w: invalid route pattern", ErrConfiguration)
	ErrEmptyKeyChain     = fmt.Errorf("%w: empty key function chain", ErrConfiguration)
	ErrInvalidPolicy     = fmt.Errorf("%w: unknown no-key policy", ErrConfiguration)
	ErrIncompatibleStore = fmt.Errorf("%w: storage driver is missing required operations", ErrConfiguration)
)

// StorageError reports a failed counter store operation.
//
// The limiter cannot make a safe admission decision without its store, so
// storage failures are surfaced to the caller instead of being turned into
// an allow or a deny.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("ratelimit: storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ratelimit: storage %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// storageErr wraps err unless it already is a *StorageError.
func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
