package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/larrabee/ratelimit"
	"github.com/larrabee/s3sftp/storage"
	"github.com/pkg/xattr"
)

const metaXattrName = "user.s3sftp.meta"

// FSStorage configuration.
//
// Every top level directory under dir is a bucket, object keys are slash separated paths inside it.
type FSStorage struct {
	dir      string
	filePerm os.FileMode
	dirPerm  os.FileMode
	bufSize  int
	xattr    bool
	rlBucket ratelimit.Bucket
}

// NewFSStorage return new configured FS storage.
//
// You should always create new storage with this constructor.
func NewFSStorage(dir string, filePerm, dirPerm os.FileMode, bufSize int, extendedMeta bool) *FSStorage {
	st := FSStorage{
		dir:      filepath.Clean(dir),
		filePerm: filePerm,
		dirPerm:  dirPerm,
		xattr:    extendedMeta && isXattrSupported(),
		rlBucket: ratelimit.NewFakeBucket(),
	}

	if extendedMeta && !isXattrSupported() {
		storage.Log.Warnf("Xattr switch enabled, but your system does not support xattr, it will be disabled.")
	}

	if bufSize < godirwalk.MinimumScratchBufferSize {
		st.bufSize = godirwalk.MinimumScratchBufferSize
	} else {
		st.bufSize = bufSize
	}
	return &st
}

// WithRateLimit set rate limit (bytes/sec) for storage.
func (st *FSStorage) WithRateLimit(limit int) error {
	bucket, err := ratelimit.NewBucketWithRate(float64(limit), int64(limit))
	if err != nil {
		return err
	}
	st.rlBucket = bucket
	return nil
}

func (st *FSStorage) objPath(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsRune(bucket, filepath.Separator) {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	root := filepath.Join(st.dir, bucket)
	p := filepath.Join(root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes bucket %q", key, bucket)
	}
	return p, nil
}

// List bucket directory and send founded objects to chan.
func (st *FSStorage) List(ctx context.Context, bucket, prefix string, output chan<- *storage.Object) error {
	root := filepath.Join(st.dir, bucket)
	if _, err := os.Stat(root); err != nil {
		return err
	}

	listObjectsFn := func(path string, de *godirwalk.Dirent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if !de.IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if strings.HasPrefix(key, prefix) {
				output <- &storage.Object{Bucket: bucket, Key: key}
			}
			return nil
		}
	}

	listObjectsErrorFn := func(path string, err error) godirwalk.ErrorAction {
		if storage.IsErrPermission(err) || storage.IsErrNotExist(err) {
			storage.Log.Debugf("FS Listing: %s, err: %s, skipping", path, err)
			return godirwalk.SkipNode
		}
		return godirwalk.Halt
	}

	return godirwalk.Walk(root, &godirwalk.Options{
		ScratchBuffer: make([]byte, st.bufSize),
		Callback:      listObjectsFn,
		ErrorCallback: listObjectsErrorFn,
	})
}

// PutObject saves object to FS.
func (st *FSStorage) PutObject(ctx context.Context, obj *storage.Object) error {
	destPath, err := st.objPath(obj.Bucket, obj.Key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), st.dirPerm); err != nil {
		return err
	}
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, st.filePerm)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, ratelimit.NewReader(bytes.NewReader(obj.Content), st.rlBucket)); err != nil {
		return err
	}

	if st.xattr {
		data, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		if err := xattr.FSet(f, metaXattrName, data); err != nil {
			return err
		}
	}

	return f.Close()
}

// GetObjectContent read object content and metadata from FS.
func (st *FSStorage) GetObjectContent(ctx context.Context, obj *storage.Object) error {
	if err := st.GetObjectStream(ctx, obj); err != nil {
		return err
	}
	defer obj.ContentStream.Close()

	data, err := io.ReadAll(obj.ContentStream)
	if err != nil {
		return err
	}

	obj.Content = data
	obj.ContentStream = nil
	return nil
}

// GetObjectStream opens object file for reading and loads its metadata.
//
// Caller must close obj.ContentStream.
func (st *FSStorage) GetObjectStream(ctx context.Context, obj *storage.Object) error {
	destPath, err := st.objPath(obj.Bucket, obj.Key)
	if err != nil {
		return err
	}
	f, err := os.Open(destPath)
	if err != nil {
		return err
	}

	if err := st.loadMeta(f, obj); err != nil {
		f.Close()
		return err
	}

	obj.ContentStream = &rlReadCloser{Reader: ratelimit.NewReader(f, st.rlBucket), Closer: f}
	return nil
}

func (st *FSStorage) loadMeta(f *os.File, obj *storage.Object) error {
	fileInfo, err := f.Stat()
	if err != nil {
		return err
	}
	if fileInfo.IsDir() {
		return &os.PathError{Op: "open", Path: f.Name(), Err: os.ErrNotExist}
	}

	size := fileInfo.Size()
	mtime := fileInfo.ModTime()
	obj.ContentLength = &size
	obj.Mtime = &mtime

	if st.xattr {
		data, err := xattr.FGet(f, metaXattrName)
		if err == nil {
			return json.Unmarshal(data, obj)
		}
		if !isNoXattrData(err) {
			return err
		}
	}

	contentType := mime.TypeByExtension(filepath.Ext(f.Name()))
	obj.ContentType = &contentType
	return nil
}

// DeleteObject remove object from FS.
func (st *FSStorage) DeleteObject(ctx context.Context, obj *storage.Object) error {
	destPath, err := st.objPath(obj.Bucket, obj.Key)
	if err != nil {
		return err
	}
	return os.Remove(destPath)
}

// GetStorageType return storage type.
func (st *FSStorage) GetStorageType() storage.Type {
	return storage.TypeFS
}

type rlReadCloser struct {
	io.Reader
	io.Closer
}
