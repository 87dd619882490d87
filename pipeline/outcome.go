package pipeline

import (
	"errors"

	"github.com/larrabee/s3sftp/remote"
)

// FailedSuffix marks archive markers of failed transfers.
const FailedSuffix = ".x"

// Outcome of a single object transfer.
type Outcome struct {
	Err error
}

// Success reports whether the object reached the remote file.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Message is the text stored in the archive marker: empty on success, the fault description otherwise.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	var tErr *TransferError
	if errors.As(o.Err, &tErr) {
		return tErr.Err.Error()
	}
	return o.Err.Error()
}

// SessionLost reports whether the transfer failed because the remote session died.
func (o Outcome) SessionLost() bool {
	var tErr *TransferError
	return errors.As(o.Err, &tErr) && tErr.Side == SideWrite && remote.IsConnectionLost(tErr.Err)
}

// Stats of one invocation.
type Stats struct {
	Transferred   uint64
	Failed        uint64
	Skipped       uint64
	ArchiveFailed uint64
	DeleteFailed  uint64
}
