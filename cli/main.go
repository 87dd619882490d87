// Package provides the cli util s3sftp.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/larrabee/s3sftp/event"
	"github.com/larrabee/s3sftp/pipeline"
	"github.com/larrabee/s3sftp/remote"
	"github.com/larrabee/s3sftp/storage"
	"github.com/larrabee/s3sftp/trigger/sqs"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var cli argsParsed
var log = logrus.New()

type relayStatus int

const (
	relayStatusOk relayStatus = iota
	relayStatusFailed
	relayStatusAborted
	relayStatusConfError
)

const sqsReceiveBackoff = 5 * time.Second

func configureLogging(l *logrus.Logger, cli *argsParsed) {
	l.SetOutput(os.Stdout)
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	l.SetLevel(cli.Level)
	storage.Log = l
	remote.Log = l
	sqs.Log = l
}

func main() {
	var err error
	cli, err = GetCliArgs(os.Args[1:])
	if err != nil {
		log.Errorf("Configuration error: %s", err)
		log.Exit(int(relayStatusConfError))
	}
	configureLogging(log, &cli)

	store, err := setupStorage(&cli)
	if err != nil {
		log.Errorf("Failed to setup storage, error: %s", err)
		log.Exit(int(relayStatusConfError))
	}
	relay := setupRelay(&cli, store, log)

	if cli.Mode == modeLambda {
		lambda.Start(lambdaHandler(relay))
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	var status relayStatus
	switch cli.Mode {
	case modeSQS:
		status = runSQS(ctx, relay)
	case modeEventFile:
		status = runEventFile(ctx, relay, cli.EventFile)
	case modeBackfill:
		status = runBackfill(ctx, relay, store, &cli)
	}
	cancel()
	log.Exit(int(status))
}

func lambdaHandler(relay *pipeline.Relay) func(context.Context, events.S3Event) error {
	return func(ctx context.Context, batch events.S3Event) error {
		start := time.Now()
		stats, err := relay.Run(ctx, batch)
		printStats(stats, time.Since(start), statusOf(ctx, err))
		return err
	}
}

func runSQS(ctx context.Context, relay *pipeline.Relay) relayStatus {
	queue, err := sqs.New(cli.SQSQueueURL, cli.S3Region, cli.SQSVisibilityTimeout, int(cli.S3Retry))
	if err != nil {
		log.Errorf("Failed to setup SQS queue, error: %s", err)
		return relayStatusConfError
	}
	log.Infof("Consuming notifications from %s", cli.SQSQueueURL)
	err = queue.Consume(ctx, func(ctx context.Context, batch events.S3Event) error {
		start := time.Now()
		stats, err := relay.Run(ctx, batch)
		printStats(stats, time.Since(start), statusOf(ctx, err))
		return err
	}, sqsReceiveBackoff)
	status := statusOf(ctx, err)
	if status == relayStatusFailed {
		log.Errorf("SQS consumer stopped, error: %s", err)
	}
	return status
}

func runEventFile(ctx context.Context, relay *pipeline.Relay, path string) relayStatus {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			log.Errorf("Failed to open event file, error: %s", err)
			return relayStatusConfError
		}
		defer f.Close()
		in = f
	}
	batch, err := event.Decode(in)
	if err != nil {
		log.Errorf("Failed to decode event, error: %s", err)
		return relayStatusConfError
	}
	start := time.Now()
	stats, err := relay.Run(ctx, batch)
	status := statusOf(ctx, err)
	printStats(stats, time.Since(start), status)
	return status
}

func runBackfill(ctx context.Context, relay *pipeline.Relay, store storage.Storage, cli *argsParsed) relayStatus {
	batch, err := backfillBatch(ctx, store, cli)
	if err != nil {
		log.Errorf("Listing %s failed, error: %s", cli.Backfill, err)
		return statusOf(ctx, err)
	}
	if len(batch.Records) == 0 {
		log.Infof("Nothing to backfill under %s", cli.Backfill)
		return relayStatusOk
	}
	start := time.Now()
	stats, err := relay.Run(ctx, batch)
	status := statusOf(ctx, err)
	printStats(stats, time.Since(start), status)
	return status
}

func statusOf(ctx context.Context, err error) relayStatus {
	switch {
	case ctx.Err() != nil:
		return relayStatusAborted
	case err != nil:
		return relayStatusFailed
	default:
		return relayStatusOk
	}
}
