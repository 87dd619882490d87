package storage

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

func TestIsErrNotExist(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{awserr.New(s3.ErrCodeNoSuchKey, "gone", nil), true},
		{awserr.New("NotFound", "gone", nil), true},
		{fmt.Errorf("get: %w", awserr.New(s3.ErrCodeNoSuchBucket, "gone", nil)), true},
		{&os.PathError{Op: "open", Path: "/x", Err: os.ErrNotExist}, true},
		{awserr.New("AccessDenied", "no", nil), false},
		{nil, false},
	}

	for i, c := range cases {
		if got := IsErrNotExist(c.err); got != c.want {
			t.Errorf("case %d: IsErrNotExist(%v) = %t, want %t", i, c.err, got, c.want)
		}
	}
}

func TestIsErrPermission(t *testing.T) {
	if !IsErrPermission(awserr.New("AccessDenied", "no", nil)) {
		t.Error("AccessDenied should be a permission error")
	}
	if !IsErrPermission(&os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}) {
		t.Error("os.ErrPermission should be a permission error")
	}
	if IsErrPermission(awserr.New(s3.ErrCodeNoSuchKey, "gone", nil)) {
		t.Error("NoSuchKey is not a permission error")
	}
}

func TestIsAwsContextCanceled(t *testing.T) {
	if IsAwsContextCanceled(nil) {
		t.Error("nil is not canceled")
	}
	if !IsAwsContextCanceled(context.Canceled) {
		t.Error("context.Canceled should match")
	}
	if !IsAwsContextCanceled(awserr.New(request.CanceledErrorCode, "canceled", nil)) {
		t.Error("aws canceled code should match")
	}
	if !IsAwsContextCanceled(awserr.New("RequestError", "send", context.Canceled)) {
		t.Error("wrapped context.Canceled should match")
	}
}

func TestParseRef(t *testing.T) {
	bucket, key, err := ParseRef("keys:sftp/id_rsa")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "keys" || key != "sftp/id_rsa" {
		t.Errorf("got %q %q", bucket, key)
	}

	for _, bad := range []string{"", "keys", "keys:", ":id_rsa", "a:b:c"} {
		if _, _, err := ParseRef(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestStrongEtag(t *testing.T) {
	weak := `W/"abc"`
	if got := *StrongEtag(&weak); got != `"abc"` {
		t.Errorf("got %s", got)
	}
	if StrongEtag(nil) != nil {
		t.Error("nil etag should stay nil")
	}
}

func TestTypeString(t *testing.T) {
	for typ, want := range map[Type]string{TypeS3: "s3", TypeFS: "fs", Type(0): "unknown"} {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", int(typ), got, want)
		}
	}
}
