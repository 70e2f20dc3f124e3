package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type recordingQueue struct {
	*MemoryQueue
	deleted []string
}

func (q *recordingQueue) Delete(_ context.Context, handle string) error {
	q.deleted = append(q.deleted, handle)
	return nil
}

func TestQueueDeliverer_RoundTripsThroughConsumer(t *testing.T) {
	ctx := context.Background()
	q := &recordingQueue{MemoryQueue: NewMemoryQueue(4)}
	require.NoError(t, NewQueueDeliverer(q).Deliver(ctx, visitNotification(KindReminderDue)))

	msgs, err := q.Receive(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var decoded Notification
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Body), &decoded))
	assert.Equal(t, visitNotification(KindReminderDue), decoded)

	sender := &mockEmailSender{}
	c := NewConsumer(q, NewEmailDeliverer(NewComposer("Clinic"), sender), logging.Discard())
	c.Handle(ctx, msgs[0])
	assert.Len(t, sender.Sent(), 1)
	assert.Equal(t, []string{msgs[0].ReceiptHandle}, q.deleted)
}

func TestConsumer_KeepsFailedDeliveriesAndDropsGarbage(t *testing.T) {
	ctx := context.Background()
	q := &recordingQueue{MemoryQueue: NewMemoryQueue(4)}
	sender := &mockEmailSender{callErr: errors.New("smtp down")}
	c := NewConsumer(q, NewEmailDeliverer(NewComposer("Clinic"), sender), logging.Discard())

	body, _ := json.Marshal(visitNotification(KindBookingConfirmed))
	c.Handle(ctx, QueueMessage{ID: "1", Body: string(body), ReceiptHandle: "keep"})
	c.Handle(ctx, QueueMessage{ID: "2", Body: "{not json", ReceiptHandle: "garbage"})
	c.Handle(ctx, QueueMessage{ID: "3", Body: `{"kind":"otp_issued","to":"x@y.z"}`, ReceiptHandle: "invalid"})

	assert.Equal(t, []string{"garbage", "invalid"}, q.deleted)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	c := NewConsumer(q, NewEmailDeliverer(NewComposer("Clinic"), &mockEmailSender{}), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	msgs, err := NewMemoryQueue(1).Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

type fakeSQS struct {
	sent    []string
	deleted []string
	inbox   []types.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.inbox}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	ctx := context.Background()
	api := &fakeSQS{inbox: []types.Message{{MessageId: aws.String("m1"), Body: aws.String("{}"), ReceiptHandle: aws.String("r1")}}}
	q := NewSQSQueue(api, "https://sqs.local/000000000000/notify")

	require.NoError(t, q.Send(ctx, "payload"))
	assert.Equal(t, []string{"payload"}, api.sent)

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []QueueMessage{{ID: "m1", Body: "{}", ReceiptHandle: "r1"}}, msgs)

	require.NoError(t, q.Delete(ctx, "r1"))
	require.NoError(t, q.Delete(ctx, ""))
	assert.Equal(t, []string{"r1"}, api.deleted)
}
