// Package pipeline relays newly created objects from the object store to the SFTP endpoint.
//
// One Run handles one trigger batch: a single session is opened, every created object is
// transferred, archived and deleted in order, then the session is closed.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/larrabee/s3sftp/event"
	"github.com/larrabee/s3sftp/remote"
	"github.com/larrabee/s3sftp/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// DefaultArchivePrefix is the key prefix of archive markers.
const DefaultArchivePrefix = "archive/"

// Config of a Relay. It is built once at startup and never changes afterwards.
type Config struct {
	// Remote is the endpoint config. Signer is filled from PrivateKeyRef on each run.
	Remote remote.Config
	// PrivateKeyRef locates a PEM encoded RSA key in "bucket:key" form.
	PrivateKeyRef string
	// RemoteDir is changed into right after connecting when set.
	RemoteDir       string
	Filename        *Template
	ArchivePrefix   string
	TransferTimeout time.Duration
}

// Relay moves objects referenced by creation events to the remote endpoint.
type Relay struct {
	Store  storage.Storage
	Dialer remote.Dialer
	Config Config
	Log    logrus.FieldLogger
	Now    func() time.Time
}

// NewRelay return new configured Relay.
func NewRelay(store storage.Storage, dialer remote.Dialer, cfg Config, log logrus.FieldLogger) *Relay {
	if cfg.Filename == nil {
		cfg.Filename = MustParseTemplate(DefaultTemplate)
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = DefaultArchivePrefix
	}
	return &Relay{
		Store:  store,
		Dialer: dialer,
		Config: cfg,
		Log:    log,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run processes one batch.
//
// Only session setup faults and malformed event names are returned; per object faults end up
// in logs, archive markers and the returned Stats.
func (r *Relay) Run(ctx context.Context, batch events.S3Event) (Stats, error) {
	var stats Stats
	r.Log.Infof("Received trigger event with %d records", len(batch.Records))

	sess, err := r.openSession(ctx)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.Log.Warnf("Closing remote session failed: %s", err)
		}
	}()

	it := event.NewIterator(batch, r.Log)
	for it.Next() {
		if err := r.process(ctx, sess, it.Object(), &stats); err != nil {
			stats.Skipped = uint64(it.Skipped())
			return stats, err
		}
	}
	stats.Skipped = uint64(it.Skipped())

	return stats, it.Err()
}

func (r *Relay) openSession(ctx context.Context) (remote.Session, error) {
	cfg := r.Config.Remote
	if r.Config.PrivateKeyRef != "" {
		signer, err := r.loadPrivateKey(ctx)
		if err != nil {
			return nil, &SetupError{Stage: "private key", Err: err}
		}
		cfg.Signer = signer
	}

	sess, err := r.Dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, &SetupError{Stage: "connect", Err: err}
	}

	if r.Config.RemoteDir != "" {
		if err := sess.Chdir(r.Config.RemoteDir); err != nil {
			sess.Close()
			return nil, &SetupError{Stage: "chdir", Err: err}
		}
	}
	return sess, nil
}

func (r *Relay) loadPrivateKey(ctx context.Context) (ssh.Signer, error) {
	bucket, key, err := storage.ParseRef(r.Config.PrivateKeyRef)
	if err != nil {
		return nil, err
	}

	obj := &storage.Object{Bucket: bucket, Key: key}
	if err := r.Store.GetObjectContent(ctx, obj); err != nil {
		return nil, err
	}

	signer, err := remote.ParseRSAKey(obj.Content)
	if err != nil {
		return nil, err
	}
	r.Log.Debugf("Retrieved private key from %s/%s", bucket, key)
	return signer, nil
}

// process advances one object through transfer, archival and deletion.
// An error means the session is gone: the object is left untouched and the batch must stop.
func (r *Relay) process(ctx context.Context, sess remote.Session, obj event.CreatedObject, stats *Stats) error {
	filename := r.Config.Filename.Resolve(obj, r.Now())
	log := r.Log.WithFields(logrus.Fields{"bucket": obj.Bucket, "key": obj.Key, "filename": filename})

	log.Infof("Transferring S3 file %s", obj.Key)
	outcome := r.Transfer(ctx, sess, obj, filename)
	if outcome.SessionLost() {
		stats.Failed++
		log.WithError(outcome.Err).Errorf("Remote session lost transferring S3 file %s, left in place", obj.Key)
		return &ObjectError{Object: obj, Stage: "transfer", Err: outcome.Err}
	}
	archiveName := filename
	if outcome.Success() {
		stats.Transferred++
	} else {
		stats.Failed++
		archiveName += FailedSuffix
		log.WithError(outcome.Err).Errorf("Error transferring S3 file %s", obj.Key)
	}

	log.Infof("Archiving S3 file %s", obj.Key)
	if err := r.Archive(ctx, obj.Bucket, archiveName, outcome.Message()); err != nil {
		stats.ArchiveFailed++
		log.WithError(&ObjectError{Object: obj, Stage: "archive", Err: err}).Errorf("Failed to archive S3 file %s", obj.Key)
	}

	log.Infof("Deleting S3 file %s", obj.Key)
	if err := r.Delete(ctx, obj); err != nil {
		stats.DeleteFailed++
		objErr := &ObjectError{Object: obj, Stage: "delete", Err: err}
		switch {
		case storage.IsErrNotExist(err):
			log.WithError(objErr).Warnf("S3 file %s is already gone", obj.Key)
		case storage.IsErrPermission(err):
			log.WithError(objErr).Errorf("Permission denied deleting S3 file %s, left in place", obj.Key)
		default:
			log.WithError(objErr).Errorf("Failed to delete S3 file %s, left in place", obj.Key)
		}
	}
	return nil
}

// Transfer streams obj into the remote file filename.
//
// When ctx ends before the copy does, sess is closed so a blocked write returns. The outcome then
// reports a lost session and sess can not be used further.
func (r *Relay) Transfer(ctx context.Context, sess remote.Session, obj event.CreatedObject, filename string) Outcome {
	if r.Config.TransferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Config.TransferTimeout)
		defer cancel()
	}

	src := &storage.Object{Bucket: obj.Bucket, Key: obj.Key}
	if err := r.Store.GetObjectStream(ctx, src); err != nil {
		return Outcome{Err: &TransferError{Side: SideRead, Err: err}}
	}
	defer src.ContentStream.Close()

	dst, err := sess.Create(filename)
	if err != nil {
		return Outcome{Err: &TransferError{Side: SideWrite, Err: err}}
	}

	// A stalled endpoint never fails a pending write on its own, only tearing the session down does.
	closeDst := sync.OnceValue(dst.Close)
	stop := context.AfterFunc(ctx, func() {
		sess.Close()
		closeDst()
	})

	body := &trackingReader{r: src.ContentStream}
	n, err := io.Copy(dst, body)
	closeErr := closeDst()
	if !stop() {
		return Outcome{Err: &TransferError{Side: SideWrite, Err: fmt.Errorf("transfer of %s interrupted, %w: %w", filename, ctx.Err(), remote.ErrConnectionLost)}}
	}
	if err != nil {
		if body.err != nil {
			return Outcome{Err: &TransferError{Side: SideRead, Err: body.err}}
		}
		return Outcome{Err: &TransferError{Side: SideWrite, Err: err}}
	}
	if closeErr != nil {
		return Outcome{Err: &TransferError{Side: SideWrite, Err: closeErr}}
	}

	r.Log.WithFields(logrus.Fields{"bucket": obj.Bucket, "key": obj.Key, "filename": filename, "bytes": n}).
		Infof("Transferred %s from S3 to SFTP as %s", obj.Key, filename)
	return Outcome{}
}

// Archive writes contents to the archive marker of filename in bucket.
func (r *Relay) Archive(ctx context.Context, bucket, filename, contents string) error {
	contentType := "text/plain"
	return r.Store.PutObject(ctx, &storage.Object{
		Bucket:      bucket,
		Key:         r.Config.ArchivePrefix + filename,
		Content:     []byte(contents),
		ContentType: &contentType,
	})
}

// Delete removes the source object.
func (r *Relay) Delete(ctx context.Context, obj event.CreatedObject) error {
	return r.Store.DeleteObject(ctx, &storage.Object{Bucket: obj.Bucket, Key: obj.Key})
}

// trackingReader remembers the first read error so copy faults can be told apart by side.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
