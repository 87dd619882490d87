package storage

import (
	"context"
	"errors"
	"os"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

// IsErrNotExist reports whether err means the object (or its bucket) is missing.
func IsErrNotExist(err error) bool {
	var aErr awserr.Error
	if errors.As(err, &aErr) {
		switch aErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}

	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	return false
}

// IsErrPermission reports whether err is an access denied error.
func IsErrPermission(err error) bool {
	var aErr awserr.Error
	if errors.As(err, &aErr) {
		if aErr.Code() == "AccessDenied" {
			return true
		}
	}

	if errors.Is(err, os.ErrPermission) {
		return true
	}
	return false
}

// IsAwsContextCanceled reports whether err was caused by a canceled context.
func IsAwsContextCanceled(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	var aErr awserr.Error
	if ok := errors.As(err, &aErr); ok && aErr.OrigErr() == context.Canceled {
		return true
	} else if ok && aErr.Code() == request.CanceledErrorCode {
		return true
	}

	return false
}
