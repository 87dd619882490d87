package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/larrabee/s3sftp/pipeline"
	"github.com/larrabee/s3sftp/remote"
	"github.com/larrabee/s3sftp/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type runMode int

const (
	modeLambda runMode = iota
	modeSQS
	modeEventFile
	modeBackfill
)

type argsParsed struct {
	args
	Mode            runMode
	StorageType     storage.Type
	Level           logrus.Level
	Filename        *pipeline.Template
	HostKey         ssh.PublicKey
	S3RetryInterval time.Duration
	BackfillBucket  string
	BackfillPrefix  string
}

type args struct {
	// SFTP endpoint
	SSHHost       string        `arg:"--ssh-host,env:SSH_HOST" help:"SFTP endpoint hostname"`
	SSHUsername   string        `arg:"--ssh-username,env:SSH_USERNAME" help:"SFTP username"`
	SSHPassword   string        `arg:"--ssh-password,env:SSH_PASSWORD" help:"SFTP password"`
	SSHPrivateKey string        `arg:"--ssh-private-key,env:SSH_PRIVATE_KEY" help:"RSA private key stored in the object store, in bucket:key format"`
	SSHPort       int           `arg:"--ssh-port,env:SSH_PORT" help:"SFTP endpoint port"`
	SSHDir        string        `arg:"--ssh-dir,env:SSH_DIR" help:"Remote directory to upload into"`
	SSHFilename   string        `arg:"--ssh-filename,env:SSH_FILENAME" help:"Remote filename template. Supports {bucket}, {key} and {current_date}"`
	SSHHostKey    string        `arg:"--ssh-host-key,env:SSH_HOST_KEY" help:"Expected server host key in authorized_keys format. Any key is accepted when empty"`
	SSHTimeout    time.Duration `arg:"--ssh-timeout,env:SSH_TIMEOUT" help:"Connect and handshake timeout"`
	// Relay
	TransferTimeout time.Duration `arg:"--transfer-timeout,env:TRANSFER_TIMEOUT" help:"Per object transfer timeout, 0 disables it"`
	ArchivePrefix   string        `arg:"--archive-prefix,env:ARCHIVE_PREFIX" help:"Key prefix of archive markers"`
	// Object store config
	S3Region           string `arg:"--s3-region,env:S3_REGION" help:"AWS Region, AWS_REGION is used when empty"`
	S3Endpoint         string `arg:"--s3-endpoint,env:S3_ENDPOINT" help:"AWS Endpoint"`
	S3Key              string `arg:"--s3-key,env:S3_KEY" help:"AWS key"`
	S3Secret           string `arg:"--s3-secret,env:S3_SECRET" help:"AWS secret"`
	S3Retry            uint   `arg:"--s3-retry,env:S3_RETRY" help:"Max numbers of retries of a single S3 request"`
	S3RetryInterval    uint   `arg:"--s3-retry-sleep,env:S3_RETRY_SLEEP" help:"Sleep interval (sec) between S3 request retries"`
	S3KeysPerReq       int64  `arg:"--s3-keys-per-req,env:S3_KEYS_PER_REQ" help:"Max numbers of keys retrieved via List request"`
	RateLimitBandwidth int    `arg:"--ratelimit-bandwidth,env:RATE_LIMIT_BANDWIDTH" help:"Object read bandwidth limit (bytes/sec), 0 disables it"`
	FSRoot             string `arg:"--fs-root,env:FS_ROOT" help:"Use local directory as object store, buckets are its subdirectories"`
	FSXattr            bool   `arg:"--fs-xattr,env:FS_XATTR" help:"Keep object metadata in xattrs of the fs store"`
	// Triggers
	SQSQueueURL          string `arg:"--sqs-queue-url,env:SQS_QUEUE_URL" help:"Consume S3 notifications from this SQS queue instead of running as Lambda"`
	SQSVisibilityTimeout int64  `arg:"--sqs-visibility-timeout,env:SQS_VISIBILITY_TIMEOUT" help:"SQS message visibility timeout (sec)"`
	EventFile            string `arg:"--event-file" help:"Process one S3 notification batch from file, - for stdin"`
	Backfill             string `arg:"--backfill" help:"Relay objects already stored under bucket[/prefix]"`
	// Misc
	LogLevel string `arg:"--log-level,env:LOGGING_LEVEL" help:"Log level: DEBUG, INFO, WARNING, ERROR, CRITICAL"`
}

// Version return program version string on human format
func (args) Version() string {
	return fmt.Sprintf("VersionId: %v, commit: %v, built at: %v", version, commit, date)
}

// Description return program description string
func (args) Description() string {
	return "Relay newly created S3 objects to an SFTP endpoint"
}

// GetCliArgs parses argv and the environment into validated configuration.
func GetCliArgs(argv []string) (cli argsParsed, err error) {
	rawCli := args{}
	rawCli.SSHPort = remote.DefaultPort
	rawCli.SSHFilename = pipeline.DefaultTemplate
	rawCli.SSHTimeout = 30 * time.Second
	rawCli.ArchivePrefix = pipeline.DefaultArchivePrefix
	rawCli.S3KeysPerReq = 1000
	rawCli.SQSVisibilityTimeout = 600
	rawCli.LogLevel = "DEBUG"

	p, err := arg.NewParser(arg.Config{}, &rawCli)
	if err != nil {
		return cli, err
	}
	if err = p.Parse(argv); err != nil {
		switch {
		case errors.Is(err, arg.ErrHelp):
			p.WriteHelp(os.Stdout)
			os.Exit(0)
		case errors.Is(err, arg.ErrVersion):
			fmt.Println(rawCli.Version())
			os.Exit(0)
		}
		return cli, err
	}
	cli.args = rawCli

	if cli.SSHHost == "" {
		return cli, errors.New("missing SSH_HOST")
	}
	if cli.SSHUsername == "" {
		return cli, errors.New("missing SSH_USERNAME")
	}
	switch {
	case cli.SSHPassword == "" && cli.SSHPrivateKey == "":
		return cli, errors.New("missing SSH_PASSWORD or SSH_PRIVATE_KEY")
	case cli.SSHPassword != "" && cli.SSHPrivateKey != "":
		return cli, errors.New("only one of SSH_PASSWORD and SSH_PRIVATE_KEY may be set")
	}
	if cli.SSHPrivateKey != "" {
		if _, _, err := storage.ParseRef(cli.SSHPrivateKey); err != nil {
			return cli, fmt.Errorf("SSH_PRIVATE_KEY: %w", err)
		}
	}
	if cli.SSHPort < 1 || cli.SSHPort > 65535 {
		return cli, fmt.Errorf("SSH_PORT out of range: %d", cli.SSHPort)
	}
	if cli.SSHHostKey != "" {
		if cli.HostKey, err = remote.ParseHostKey(cli.SSHHostKey); err != nil {
			return cli, fmt.Errorf("SSH_HOST_KEY: %w", err)
		}
	}
	if cli.Filename, err = pipeline.ParseTemplate(cli.SSHFilename); err != nil {
		return cli, fmt.Errorf("SSH_FILENAME: %w", err)
	}
	if cli.Level, err = parseLogLevel(cli.LogLevel); err != nil {
		return cli, fmt.Errorf("LOGGING_LEVEL: %w", err)
	}
	if cli.RateLimitBandwidth < 0 {
		return cli, fmt.Errorf("RATE_LIMIT_BANDWIDTH must not be negative")
	}
	cli.S3RetryInterval = time.Duration(cli.args.S3RetryInterval) * time.Second

	if cli.FSRoot != "" {
		cli.StorageType = storage.TypeFS
	} else {
		cli.StorageType = storage.TypeS3
	}

	modes := 0
	if cli.SQSQueueURL != "" {
		cli.Mode = modeSQS
		modes++
	}
	if cli.EventFile != "" {
		cli.Mode = modeEventFile
		modes++
	}
	if cli.Backfill != "" {
		cli.Mode = modeBackfill
		modes++
		if cli.BackfillBucket, cli.BackfillPrefix, err = parseBackfill(cli.Backfill); err != nil {
			return cli, err
		}
	}
	if modes > 1 {
		return cli, errors.New("--sqs-queue-url, --event-file and --backfill are mutually exclusive")
	}

	return cli, nil
}

func parseLogLevel(s string) (logrus.Level, error) {
	if strings.EqualFold(s, "critical") {
		return logrus.FatalLevel, nil
	}
	return logrus.ParseLevel(s)
}

func parseBackfill(s string) (bucket, prefix string, err error) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(s, "s3://"), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("--backfill: bucket is required in %q", s)
	}
	return bucket, prefix, nil
}
