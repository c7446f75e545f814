package sqs

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pixelvide/queuehost/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockAPI) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	return &sqs.SendMessageOutput{}, args.Error(0)
}

func (m *MockAPI) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	return &sqs.DeleteMessageOutput{}, args.Error(0)
}

func (m *MockAPI) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.GetQueueUrlOutput), args.Error(1)
}

const testPrefix = "https://sqs.us-east-1.amazonaws.com/123456789012"

func TestSQSDriver_PushUsesPrefixedURL(t *testing.T) {
	api := new(MockAPI)
	driver := NewSQSDriver(api, testPrefix+"/")

	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		return aws.ToString(in.QueueUrl) == testPrefix+"/emails" && aws.ToString(in.MessageBody) == `{"job":"x"}`
	})).Return(nil)

	require.NoError(t, driver.Push(context.Background(), "emails", []byte(`{"job":"x"}`)))
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "GetQueueUrl", mock.Anything, mock.Anything)
}

func TestSQSDriver_PopAndAck(t *testing.T) {
	api := new(MockAPI)
	driver := NewSQSDriver(api, testPrefix)

	api.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []types.Message{{
			ReceiptHandle: aws.String("receipt-1"),
			Body:          aws.String(`{"uuid":"1"}`),
		}},
	}, nil).Once()
	api.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "receipt-1" && aws.ToString(in.QueueUrl) == testPrefix+"/emails"
	})).Return(nil)

	job, err := driver.Pop(context.Background(), "emails")
	require.NoError(t, err)
	assert.Equal(t, "receipt-1", job.ID)
	assert.Equal(t, `{"uuid":"1"}`, string(job.Body))

	require.NoError(t, driver.Ack(context.Background(), job))
	api.AssertExpectations(t)
}

func TestSQSDriver_PopReceiveCount(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
		want  int
	}{
		{name: "redelivered", attrs: map[string]string{"ApproximateReceiveCount": "3"}, want: 3},
		{name: "missing", attrs: nil, want: 0},
		{name: "malformed", attrs: map[string]string{"ApproximateReceiveCount": "many"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(MockAPI)
			driver := NewSQSDriver(api, testPrefix)

			api.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
				return len(in.MessageSystemAttributeNames) == 1 &&
					in.MessageSystemAttributeNames[0] == types.MessageSystemAttributeNameApproximateReceiveCount
			})).Return(&sqs.ReceiveMessageOutput{
				Messages: []types.Message{{
					ReceiptHandle: aws.String("receipt-1"),
					Body:          aws.String(`{"uuid":"1"}`),
					Attributes:    tt.attrs,
				}},
			}, nil).Once()

			job, err := driver.Pop(context.Background(), "emails")
			require.NoError(t, err)
			assert.Equal(t, tt.want, job.ReceiveCount)
			api.AssertExpectations(t)
		})
	}
}

func TestSQSDriver_PopEmpty(t *testing.T) {
	api := new(MockAPI)
	driver := NewSQSDriver(api, testPrefix)

	api.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{}, nil)

	_, err := driver.Pop(context.Background(), "emails")
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestSQSDriver_QueueURLLookupIsCached(t *testing.T) {
	api := new(MockAPI)
	driver := NewSQSDriver(api, "")

	api.On("GetQueueUrl", mock.Anything, mock.MatchedBy(func(in *sqs.GetQueueUrlInput) bool {
		return aws.ToString(in.QueueName) == "sms"
	})).Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(testPrefix + "/sms")}, nil).Once()

	for i := 0; i < 3; i++ {
		url, err := driver.QueueURL(context.Background(), "sms")
		require.NoError(t, err)
		assert.Equal(t, testPrefix+"/sms", url)
	}
	api.AssertExpectations(t)
}
