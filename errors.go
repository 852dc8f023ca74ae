package telemdb

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Store.Read for a key which holds no value.
	ErrNotFound = errors.New("record not found")
	// ErrStore matches every *StoreError.
	ErrStore = errors.New("store error")
	// ErrFormat is returned when persisted data has an unexpected structure.
	ErrFormat = errors.New("malformed document")
	// ErrPageFault is returned on logical misuse of a Page or PageManager.
	ErrPageFault = errors.New("page fault")
	// ErrInvalidArgument is returned on construction-time contract violations.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StoreError wraps a backend failure of a Store operation.
type StoreError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == NilKey {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error        { return e.Err }
func (e *StoreError) Cause() error         { return e.Err }
func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeErr(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*StoreError); ok {
		return err
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

func pageFault(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPageFault, format, args...)
}

func formatErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Wrapf(ErrFormat, format, args...)
	}
	return errors.Wrapf(ErrFormat, "%s: %v", fmt.Sprintf(format, args...), err)
}
