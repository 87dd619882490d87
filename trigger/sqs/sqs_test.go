package sqs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

type mockSQSClient struct {
	sqsiface.SQSAPI
	responses []*sqs.ReceiveMessageOutput
	errs      []error
	deleted   []string
	cancel    context.CancelFunc
}

func (m *mockSQSClient) ReceiveMessageWithContext(ctx aws.Context, in *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(m.responses) == 0 {
		m.cancel()
		return nil, ctx.Err()
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func (m *mockSQSClient) DeleteMessageWithContext(ctx aws.Context, in *sqs.DeleteMessageInput, opts ...request.Option) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.StringValue(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func message(body, handle string) *sqs.ReceiveMessageOutput {
	return &sqs.ReceiveMessageOutput{Messages: []*sqs.Message{{Body: aws.String(body), ReceiptHandle: aws.String(handle)}}}
}

const createdBody = `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"in"},"object":{"key":"f1"}}}]}`

func TestConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &mockSQSClient{
		cancel: cancel,
		responses: []*sqs.ReceiveMessageOutput{
			{},
			message(createdBody, "ok"),
			message("not json", "bad"),
			message(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"fail"},"object":{"key":"f2"}}}]}`, "failed"),
		},
		errs: []error{errors.New("throttled")},
	}
	q := NewWithClient(m, "https://sqs.example.com/queue", 600)

	var handled []string
	handle := func(ctx context.Context, batch events.S3Event) error {
		bucket := batch.Records[0].S3.Bucket.Name
		handled = append(handled, bucket)
		if bucket == "fail" {
			return errors.New("session setup failed")
		}
		return nil
	}

	err := q.Consume(ctx, handle, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	if len(handled) != 2 || handled[0] != "in" || handled[1] != "fail" {
		t.Errorf("unexpected handled batches %v", handled)
	}
	if len(m.deleted) != 1 || m.deleted[0] != "ok" {
		t.Errorf("only the successful message should be deleted, got %v", m.deleted)
	}
}

func TestReceiveTooMany(t *testing.T) {
	m := &mockSQSClient{responses: []*sqs.ReceiveMessageOutput{{Messages: []*sqs.Message{{}, {}}}}}
	q := NewWithClient(m, "u", 10)
	if _, err := q.Receive(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestReceiveNilMessage(t *testing.T) {
	m := &mockSQSClient{responses: []*sqs.ReceiveMessageOutput{{Messages: []*sqs.Message{nil}}}}
	q := NewWithClient(m, "u", 10)
	if _, err := q.Receive(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestConsumeRequestCanceled(t *testing.T) {
	canceled := awserr.New(request.CanceledErrorCode, "request context canceled", errors.New("canceled"))
	m := &mockSQSClient{errs: []error{canceled}}
	q := NewWithClient(m, "u", 10)

	err := q.Consume(context.Background(), func(context.Context, events.S3Event) error {
		t.Error("no batch expected")
		return nil
	}, time.Millisecond)
	if err == nil {
		t.Fatal("a canceled request on a live context must be reported")
	}
	if !errors.Is(err, canceled) {
		t.Errorf("unexpected error %v", err)
	}
}
