// Package sqs receives S3 notification batches from an AWS SQS queue.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/larrabee/s3sftp/event"
	"github.com/larrabee/s3sftp/storage"
	"github.com/sirupsen/logrus"
)

// Log implement Logrus logger for debug logging.
var Log = logrus.New()

// Raw is a received message.
type Raw struct {
	Body          string
	ReceiptHandle string
}

// Queue reads one queue.
type Queue struct {
	client            sqsiface.SQSAPI
	url               string
	visibilityTimeout int64
}

// New builds a Queue from the default AWS session (environment, shared config, instance role).
// Failed SQS requests are retried up to maxRetries times by the SDK.
func New(queueURL, region string, visibilityTimeout int64, maxRetries int) (*Queue, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	if region != "" {
		sess.Config.Region = aws.String(region)
	}
	sess.Config.Retryer = client.DefaultRetryer{NumMaxRetries: maxRetries}

	return NewWithClient(sqs.New(sess), queueURL, visibilityTimeout), nil
}

// NewWithClient returns a Queue on top of an existing API client.
func NewWithClient(c sqsiface.SQSAPI, queueURL string, visibilityTimeout int64) *Queue {
	return &Queue{client: c, url: queueURL, visibilityTimeout: visibilityTimeout}
}

// Receive long-polls until a single notification message arrives.
// The message stays hidden from other consumers for the visibility timeout; it is redelivered
// unless Delete is called before that.
func (q *Queue) Receive(ctx context.Context) (Raw, error) {
	in := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: aws.Int64(1),
		VisibilityTimeout:   aws.Int64(q.visibilityTimeout),
		WaitTimeSeconds:     aws.Int64(20),
	}

	for ctx.Err() == nil {
		out, err := q.client.ReceiveMessageWithContext(ctx, in)
		if err != nil {
			return Raw{}, err
		}
		if out == nil || len(out.Messages) == 0 {
			continue
		}
		if len(out.Messages) > 1 {
			return Raw{}, fmt.Errorf("expected a single message, got %d", len(out.Messages))
		}

		msg := out.Messages[0]
		if msg == nil {
			return Raw{}, errors.New("empty message in receive response")
		}
		return Raw{Body: aws.StringValue(msg.Body), ReceiptHandle: aws.StringValue(msg.ReceiptHandle)}, nil
	}
	return Raw{}, ctx.Err()
}

// Delete acknowledges a relayed batch so it is not delivered again.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}

// Handler processes one notification batch.
type Handler func(ctx context.Context, batch events.S3Event) error

// Consume receives messages and hands their batches to handle until ctx is done.
//
// A message is deleted once handle returns nil. Undecodable messages and failed batches stay
// in the queue for redelivery (and the queue's redrive policy).
func (q *Queue) Consume(ctx context.Context, handle Handler, backoff time.Duration) error {
	Log.Infof("Listening for messages on %s", q.url)

	for {
		r, err := q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if storage.IsAwsContextCanceled(err) {
				return err
			}
			Log.Warnf("Problem receiving message, backing off: %s", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		batch, err := event.Decode(strings.NewReader(r.Body))
		if err != nil {
			Log.Errorf("Problem decoding message, skipping deletion for redelivery: %s", err)
			continue
		}

		if err := handle(ctx, batch); err != nil {
			Log.Errorf("Problem processing message, skipping deletion for redelivery: %s", err)
			continue
		}

		if err := q.Delete(ctx, r.ReceiptHandle); err != nil {
			Log.Warnf("Problem deleting message, continuing: %s", err)
		}
	}
}
