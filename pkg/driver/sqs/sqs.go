package sqs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pixelvide/queuehost/pkg/queue"
)

// API is the subset of the SQS client used by the driver
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SQSDriver implements queue.Driver on Amazon SQS
type SQSDriver struct {
	client API
	prefix string

	mu   sync.RWMutex
	urls map[string]string
}

// NewSQSDriver creates a new SQS driver. With a prefix the queue URL is
// "<prefix>/<queue>", as in Laravel; without one it is looked up by name.
func NewSQSDriver(client API, prefix string) *SQSDriver {
	return &SQSDriver{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		urls:   make(map[string]string),
	}
}

// QueueURL resolves and caches the URL of a queue
func (s *SQSDriver) QueueURL(ctx context.Context, queueName string) (string, error) {
	s.mu.RLock()
	url, ok := s.urls[queueName]
	s.mu.RUnlock()
	if ok {
		return url, nil
	}

	if s.prefix != "" {
		url = s.prefix + "/" + queueName
	} else {
		out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
		if err != nil {
			return "", fmt.Errorf("resolve sqs queue %s: %w", queueName, err)
		}
		url = aws.ToString(out.QueueUrl)
	}

	s.mu.Lock()
	s.urls[queueName] = url
	s.mu.Unlock()
	return url, nil
}

// Pop long-polls SQS for one message
func (s *SQSDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	url, err := s.QueueURL(ctx, queueName)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20, // Long polling
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Messages) == 0 {
		return nil, queue.ErrEmpty
	}

	msg := resp.Messages[0]

	// ID is the receipt handle, needed for deleting
	job := &queue.Job{
		ID:    aws.ToString(msg.ReceiptHandle),
		Queue: queueName,
		Body:  []byte(aws.ToString(msg.Body)),
	}
	if raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			job.ReceiveCount = n
		}
	}
	return job, nil
}

// Push adds a job to SQS
func (s *SQSDriver) Push(ctx context.Context, queueName string, body []byte) error {
	url, err := s.QueueURL(ctx, queueName)
	if err != nil {
		return err
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	return err
}

// Ack deletes the job from SQS
func (s *SQSDriver) Ack(ctx context.Context, job *queue.Job) error {
	url, err := s.QueueURL(ctx, job.Queue)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(job.ID),
	})
	return err
}
