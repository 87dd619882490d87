//go:build linux || darwin || netbsd

package fs

import (
	"errors"
	"syscall"

	"github.com/pkg/xattr"
)

func isNoXattrData(err error) bool {
	var xErr *xattr.Error
	if errors.As(err, &xErr) {
		return xErr.Err == syscall.ENODATA
	}
	return false
}

func isXattrSupported() bool {
	return true
}
