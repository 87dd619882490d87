package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/larrabee/s3sftp/event"
	"github.com/larrabee/s3sftp/pipeline"
	"github.com/larrabee/s3sftp/remote"
	"github.com/larrabee/s3sftp/storage"
	"github.com/larrabee/s3sftp/storage/fs"
	"github.com/larrabee/s3sftp/storage/s3"
	"github.com/sirupsen/logrus"
)

const backfillListBuffer = 1000

func setupStorage(cli *argsParsed) (storage.Storage, error) {
	var st storage.Storage
	switch cli.StorageType {
	case storage.TypeS3:
		s3st, err := s3.NewS3Storage(cli.S3Key, cli.S3Secret, cli.S3Region, cli.S3Endpoint,
			cli.S3KeysPerReq, cli.S3Retry, cli.S3RetryInterval,
		)
		if err != nil {
			return nil, err
		}
		st = s3st
	case storage.TypeFS:
		st = fs.NewFSStorage(cli.FSRoot, 0644, 0755, os.Getpagesize()*256*32, cli.FSXattr)
	}

	if st == nil {
		return nil, fmt.Errorf("storage is nil")
	}
	log.Infof("Using %s object store", st.GetStorageType())

	if cli.RateLimitBandwidth > 0 {
		if err := st.WithRateLimit(cli.RateLimitBandwidth); err != nil {
			return nil, fmt.Errorf("bandwidth limit error: %w", err)
		}
	}
	return st, nil
}

func setupRelay(cli *argsParsed, st storage.Storage, l logrus.FieldLogger) *pipeline.Relay {
	cfg := pipeline.Config{
		Remote: remote.Config{
			Host:     cli.SSHHost,
			Port:     cli.SSHPort,
			User:     cli.SSHUsername,
			Password: cli.SSHPassword,
			HostKey:  cli.HostKey,
			Timeout:  cli.SSHTimeout,
		},
		PrivateKeyRef:   cli.SSHPrivateKey,
		RemoteDir:       cli.SSHDir,
		Filename:        cli.Filename,
		ArchivePrefix:   cli.ArchivePrefix,
		TransferTimeout: cli.TransferTimeout,
	}
	return pipeline.NewRelay(st, remote.SFTPDialer{}, cfg, l)
}

// backfillBatch lists the backfill location and wraps every object into a synthetic creation batch.
// Archive markers and the private key object are left out.
func backfillBatch(ctx context.Context, st storage.Storage, cli *argsParsed) (events.S3Event, error) {
	var keyBucket, keyName string
	if cli.SSHPrivateKey != "" {
		keyBucket, keyName, _ = storage.ParseRef(cli.SSHPrivateKey)
	}

	listCh := make(chan *storage.Object, backfillListBuffer)
	errCh := make(chan error, 1)
	go func() {
		errCh <- st.List(ctx, cli.BackfillBucket, cli.BackfillPrefix, listCh)
		close(listCh)
	}()

	var keys []string
	for obj := range listCh {
		switch {
		case strings.HasPrefix(obj.Key, cli.ArchivePrefix):
			continue
		case obj.Bucket == keyBucket && obj.Key == keyName:
			continue
		}
		keys = append(keys, obj.Key)
	}
	if err := <-errCh; err != nil {
		return events.S3Event{}, err
	}
	log.Infof("Backfill found %d objects under %s", len(keys), cli.Backfill)
	return event.Synthesize(cli.BackfillBucket, "Backfill", keys), nil
}
