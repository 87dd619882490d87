package pipeline

import (
	"fmt"

	"github.com/larrabee/s3sftp/event"
)

// SetupError aborts a whole invocation: no object of the batch was processed.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("session setup (%s) failed with error: %s", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// ObjectError binds a per object failure to the object and the stage it happened in.
type ObjectError struct {
	Object event.CreatedObject
	Stage  string
	Err    error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s of %s/%s failed with error: %s", e.Stage, e.Object.Bucket, e.Object.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// Side tells which end of a transfer a fault came from.
type Side int

// Transfer sides.
const (
	SideRead Side = iota + 1
	SideWrite
)

func (s Side) String() string {
	switch s {
	case SideRead:
		return "object store read"
	case SideWrite:
		return "remote write"
	default:
		return "unknown"
	}
}

// TransferError is a fault while streaming an object to the remote file.
type TransferError struct {
	Side Side
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed with error: %s", e.Side, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
