package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// Queue carries serialized notifications between the API and the notify worker.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is a Queue on AWS (or LocalStack) SQS.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

var _ Queue = (*SQSQueue)(nil)

func NewSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("notify: send SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("notify: receive SQS messages: %w", err)
	}
	msgs := make([]QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, QueueMessage{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("notify: delete SQS message: %w", err)
	}
	return nil
}

// MemoryQueue is a Queue on a buffered channel, for tests and single-process runs.
type MemoryQueue struct {
	ch chan QueueMessage
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan QueueMessage, buffer)}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := QueueMessage{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for the first message, then drains what is ready.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first QueueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	msgs := []QueueMessage{first}
	for len(msgs) < maxMessages {
		select {
		case m := <-q.ch:
			msgs = append(msgs, m)
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

func (q *MemoryQueue) Delete(context.Context, string) error {
	return nil
}

// QueueDeliverer publishes notifications to a Queue for a remote worker.
type QueueDeliverer struct {
	queue Queue
}

var _ Deliverer = (*QueueDeliverer)(nil)

func NewQueueDeliverer(q Queue) *QueueDeliverer {
	if q == nil {
		panic("notify: queue required")
	}
	return &QueueDeliverer{queue: q}
}

func (d *QueueDeliverer) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode notification: %w", err)
	}
	return d.queue.Send(ctx, string(body))
}

// Consumer drains a Queue into a Deliverer. Messages that fail delivery stay
// on the queue for redelivery; malformed ones are deleted.
type Consumer struct {
	queue     Queue
	deliverer Deliverer
	logger    *logging.Logger
	batch     int
	wait      int
}

func NewConsumer(q Queue, deliverer Deliverer, logger *logging.Logger) *Consumer {
	if q == nil || deliverer == nil {
		panic("notify: consumer needs queue and deliverer")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{queue: q, deliverer: deliverer, logger: logger, batch: 10, wait: 20}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msgs, err := c.queue.Receive(ctx, c.batch, c.wait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("notify consumer: receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, m := range msgs {
			c.Handle(ctx, m)
		}
	}
}

// Handle processes a single message.
func (c *Consumer) Handle(ctx context.Context, m QueueMessage) {
	var n Notification
	if err := json.Unmarshal([]byte(m.Body), &n); err != nil {
		c.logger.Warn("notify consumer: discarding malformed message", "message_id", m.ID, "error", err)
		c.delete(ctx, m)
		return
	}
	if err := n.Validate(); err != nil {
		c.logger.Warn("notify consumer: discarding invalid notification", "message_id", m.ID, "error", err)
		c.delete(ctx, m)
		return
	}
	if err := c.deliverer.Deliver(ctx, n); err != nil {
		c.logger.Error("notify consumer: delivery failed, leaving for retry", "message_id", m.ID, "kind", n.Kind, "error", err)
		return
	}
	c.delete(ctx, m)
}

func (c *Consumer) delete(ctx context.Context, m QueueMessage) {
	if err := c.queue.Delete(ctx, m.ReceiptHandle); err != nil {
		c.logger.Warn("notify consumer: delete failed", "message_id", m.ID, "error", err)
	}
}
