package sqs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/testutil"
)

type fakeClient struct {
	mu       sync.Mutex
	sent     []string
	inbox    [][]types.Message
	deleted  []string
	sendErr  error
	attrsErr error
}

func (c *fakeClient) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent = append(c.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (c *fakeClient) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	c.mu.Lock()
	if len(c.inbox) > 0 {
		batch := c.inbox[0]
		c.inbox = c.inbox[1:]
		c.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeClient) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (c *fakeClient) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{}, c.attrsErr
}

func (c *fakeClient) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

func testConfig() Config {
	return Config{Region: "eu-west-1", QueueURL: "https://sqs.eu-west-1.amazonaws.com/1/orders-bus"}
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), Config{QueueURL: "q"}, testutil.NewMockLogger())
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Region: "eu-west-1"}, testutil.NewMockLogger())
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	c := &fakeClient{}
	transport := newTransport(testConfig(), c, testutil.NewMockLogger())

	event := bus.NewRefreshEvent("cli", "orders")
	require.NoError(t, transport.Publish(context.Background(), event))
	require.Len(t, c.sent, 1)
	decoded, err := bus.Decode([]byte(c.sent[0]))
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)

	c.sendErr = errors.New("throttled")
	assert.ErrorIs(t, transport.Publish(context.Background(), event), c.sendErr)
}

func TestSubscribeDeletesHandledMessages(t *testing.T) {
	good, err := bus.Encode(bus.NewRefreshEvent("cli", ""))
	require.NoError(t, err)
	failing, err := bus.Encode(bus.NewRefreshEvent("cli", ""))
	require.NoError(t, err)

	c := &fakeClient{inbox: [][]types.Message{{
		{MessageId: aws.String("1"), ReceiptHandle: aws.String("r1"), Body: aws.String(string(good))},
		{MessageId: aws.String("2"), ReceiptHandle: aws.String("r2"), Body: aws.String(string(failing))},
		{MessageId: aws.String("3"), ReceiptHandle: aws.String("r3"), Body: aws.String("garbage")},
	}}}
	transport := newTransport(testConfig(), c, testutil.NewMockLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	require.NoError(t, transport.Subscribe(ctx, func(context.Context, bus.Event) error {
		calls++
		if calls == 2 {
			return errors.New("refresh failed")
		}
		return nil
	}))

	assert.Eventually(t, func() bool { return len(c.Deleted()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"r1", "r3"}, c.Deleted())
}

func TestHealthCheck(t *testing.T) {
	c := &fakeClient{}
	transport := newTransport(testConfig(), c, testutil.NewMockLogger())
	require.NoError(t, transport.HealthCheck(context.Background()))

	c.attrsErr = errors.New("queue does not exist")
	assert.ErrorIs(t, transport.HealthCheck(context.Background()), c.attrsErr)
}

func TestCloseStopsPolling(t *testing.T) {
	transport := newTransport(testConfig(), &fakeClient{}, testutil.NewMockLogger())
	require.NoError(t, transport.Subscribe(context.Background(), func(context.Context, bus.Event) error { return nil }))

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())

	ctx := context.Background()
	assert.ErrorIs(t, transport.Publish(ctx, bus.NewRefreshEvent("cli", "")), bus.ErrClosed)
	assert.ErrorIs(t, transport.HealthCheck(ctx), bus.ErrClosed)
}
