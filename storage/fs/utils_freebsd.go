//go:build freebsd

package fs

import (
	"errors"
	"syscall"

	"github.com/pkg/xattr"
)

func isNoXattrData(err error) bool {
	var xErr *xattr.Error
	if errors.As(err, &xErr) {
		return xErr.Err == syscall.ENOATTR
	}
	return false
}

func isXattrSupported() bool {
	return true
}
