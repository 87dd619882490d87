// Package storage provides interface for working with object storages like Amazon S3 and local FS.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Log implement Logrus logger for debug logging.
var Log = logrus.New()

// Type of Storage.
type Type int

// Storage types.
const (
	TypeS3 Type = iota + 1
	TypeFS
)

func (t Type) String() string {
	switch t {
	case TypeS3:
		return "s3"
	case TypeFS:
		return "fs"
	default:
		return "unknown"
	}
}

// Object contain content and metadata of stored object.
//
// Bucket and Key address the object. Content is filled by GetObjectContent and read by PutObject,
// ContentStream is filled by GetObjectStream and must be closed by the caller.
type Object struct {
	Bucket        string             `json:"-"`
	Key           string             `json:"-"`
	ETag          *string            `json:"e_tag"`
	Mtime         *time.Time         `json:"mtime"`
	Content       []byte             `json:"-"`
	ContentStream io.ReadCloser      `json:"-"`
	ContentLength *int64             `json:"-"`
	ContentType   *string            `json:"content_type"`
	Metadata      map[string]*string `json:"metadata"`
}

// Storage interface.
type Storage interface {
	WithRateLimit(limit int) error
	List(ctx context.Context, bucket, prefix string, output chan<- *Object) error
	PutObject(ctx context.Context, obj *Object) error
	GetObjectContent(ctx context.Context, obj *Object) error
	GetObjectStream(ctx context.Context, obj *Object) error
	DeleteObject(ctx context.Context, obj *Object) error
	GetStorageType() Type
}
