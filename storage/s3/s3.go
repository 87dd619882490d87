package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/larrabee/ratelimit"
	"github.com/larrabee/s3sftp/storage"
)

// S3Storage configuration.
type S3Storage struct {
	awsSvc     s3iface.S3API
	keysPerReq int64
	rlBucket   ratelimit.Bucket
}

// NewS3Storage return new configured S3 storage.
//
// Credentials fall back to the default AWS chain (env, shared config, instance/task role)
// when awsAccessKey or awsSecretKey is empty. An empty region is taken from the environment.
// retryCnt is the number of SDK level retries for a single API request.
func NewS3Storage(awsAccessKey, awsSecretKey, awsRegion, endpoint string, keysPerReq int64, retryCnt uint, retryInterval time.Duration) (*S3Storage, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}

	sess.Config.S3ForcePathStyle = aws.Bool(endpoint != "")
	sess.Config.CredentialsChainVerboseErrors = aws.Bool(true)
	sess.Config.Retryer = Retryer{RetryCnt: retryCnt, RetryDelay: retryInterval}

	if awsRegion != "" {
		sess.Config.Region = aws.String(awsRegion)
	}

	if awsAccessKey != "" && awsSecretKey != "" {
		sess.Config.WithCredentials(credentials.NewStaticCredentials(awsAccessKey, awsSecretKey, ""))
	}

	if endpoint != "" {
		sess.Config.Endpoint = aws.String(endpoint)
	}

	return NewS3StorageWithClient(s3.New(sess), keysPerReq), nil
}

// NewS3StorageWithClient return S3 storage on top of an existing API client.
func NewS3StorageWithClient(svc s3iface.S3API, keysPerReq int64) *S3Storage {
	return &S3Storage{
		awsSvc:     svc,
		keysPerReq: keysPerReq,
		rlBucket:   ratelimit.NewFakeBucket(),
	}
}

// WithRateLimit set rate limit (bytes/sec) for storage.
func (st *S3Storage) WithRateLimit(limit int) error {
	bucket, err := ratelimit.NewBucketWithRate(float64(limit), int64(limit))
	if err != nil {
		return err
	}
	st.rlBucket = bucket
	return nil
}

// List S3 bucket and send founded objects to chan.
func (st *S3Storage) List(ctx context.Context, bucket, prefix string, output chan<- *storage.Object) error {
	listObjectsFn := func(p *s3.ListObjectsOutput, lastPage bool) bool {
		for _, o := range p.Contents {
			key, err := url.QueryUnescape(aws.StringValue(o.Key))
			if err != nil {
				key = aws.StringValue(o.Key)
			}
			output <- &storage.Object{
				Bucket:        bucket,
				Key:           key,
				ETag:          storage.StrongEtag(o.ETag),
				Mtime:         o.LastModified,
				ContentLength: o.Size,
			}
		}
		return !lastPage
	}

	input := &s3.ListObjectsInput{
		Bucket:       aws.String(bucket),
		Prefix:       aws.String(prefix),
		MaxKeys:      aws.Int64(st.keysPerReq),
		EncodingType: aws.String(s3.EncodingTypeUrl),
	}

	err := st.awsSvc.ListObjectsPagesWithContext(ctx, input, listObjectsFn)
	if err != nil {
		storage.Log.Debugf("S3 listing failed with error: %s", err)
		return err
	}
	storage.Log.Debugf("Listing bucket %s finished", bucket)
	return nil
}

// PutObject saves object to S3.
func (st *S3Storage) PutObject(ctx context.Context, obj *storage.Object) error {
	objReader := bytes.NewReader(obj.Content)
	rlReader := ratelimit.NewReadSeeker(objReader, st.rlBucket)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(obj.Bucket),
		Key:         aws.String(obj.Key),
		Body:        rlReader,
		ContentType: obj.ContentType,
		Metadata:    obj.Metadata,
	}

	if _, err := st.awsSvc.PutObjectWithContext(ctx, input); err != nil {
		storage.Log.Debugf("S3 obj uploading failed with error: %s", err)
		return err
	}
	return nil
}

// GetObjectContent read object content and metadata from S3.
func (st *S3Storage) GetObjectContent(ctx context.Context, obj *storage.Object) error {
	if err := st.GetObjectStream(ctx, obj); err != nil {
		return err
	}
	defer obj.ContentStream.Close()

	buf := bytes.NewBuffer(make([]byte, 0, aws.Int64Value(obj.ContentLength)))
	if _, err := io.Copy(buf, obj.ContentStream); err != nil {
		storage.Log.Debugf("S3 obj content downloading failed with error: %s", err)
		return err
	}

	obj.Content = buf.Bytes()
	obj.ContentStream = nil
	return nil
}

// GetObjectStream opens object body for reading and loads object metadata.
//
// Caller must close obj.ContentStream.
func (st *S3Storage) GetObjectStream(ctx context.Context, obj *storage.Object) error {
	input := &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	}

	result, err := st.awsSvc.GetObjectWithContext(ctx, input)
	if err != nil {
		storage.Log.Debugf("S3 obj content downloading request failed with error: %s", err)
		return err
	}

	obj.ContentStream = &rlReadCloser{
		Reader: ratelimit.NewReader(result.Body, st.rlBucket),
		Closer: result.Body,
	}
	obj.ContentLength = result.ContentLength
	obj.ContentType = result.ContentType
	obj.ETag = storage.StrongEtag(result.ETag)
	obj.Metadata = result.Metadata
	obj.Mtime = result.LastModified

	return nil
}

// DeleteObject remove object from S3.
func (st *S3Storage) DeleteObject(ctx context.Context, obj *storage.Object) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	}

	if _, err := st.awsSvc.DeleteObjectWithContext(ctx, input); err != nil {
		storage.Log.Debugf("S3 obj removing failed with error: %s", err)
		return err
	}
	return nil
}

// GetStorageType return storage type.
func (st *S3Storage) GetStorageType() storage.Type {
	return storage.TypeS3
}

type rlReadCloser struct {
	io.Reader
	io.Closer
}
