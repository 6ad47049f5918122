// Package queue wraps the SQS work queue that hands import jobs from the
// API to the worker. Delivery is at-least-once: a message is deleted only
// after the job reached a durable terminal state, so a crashed worker's
// message reappears after the visibility timeout and is retried.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/fleet-import/internal/config"
	"github.com/ignite/fleet-import/internal/pkg/logger"
)

// JobMessage is the entire queue payload. The worker re-reads everything
// else (mapping, filename) from the job row, so the message never goes
// stale when a job is edited between publish and pickup.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Received is one queue delivery, already parsed.
type Received struct {
	JobID         string
	ReceiptHandle string
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Client publishes and consumes job messages on one SQS queue.
type Client struct {
	api               sqsAPI
	queueURL          string
	longPollSeconds   int32
	visibilitySeconds int32
}

// NewClient builds an SQS-backed client. When cfg.EndpointOverride is set
// the client targets a local emulator with static dummy credentials, so
// development needs no AWS account.
func NewClient(ctx context.Context, cfg config.QueueConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("queue: QUEUE_URL not configured")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.EndpointOverride != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("queue: load aws config: %w", err)
	}

	api := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.EndpointOverride != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointOverride)
		}
	})

	return &Client{
		api:               api,
		queueURL:          cfg.URL,
		longPollSeconds:   int32(cfg.LongPollSeconds),
		visibilitySeconds: int32(cfg.VisibilitySeconds),
	}, nil
}

// PublishJob enqueues one job id. Synchronous: the caller must know the
// handoff is durable before answering the upload request.
func (c *Client) PublishJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("queue: marshal job message: %w", err)
	}
	_, err = c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("queue: publish job %s: %w", jobID, err)
	}
	return nil
}

// Receive long-polls for deliveries. Messages whose body does not parse
// as a JobMessage are deleted immediately; redelivering garbage forever
// helps nobody.
func (c *Client) Receive(ctx context.Context) ([]Received, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.longPollSeconds,
		VisibilityTimeout:   c.visibilitySeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}

	var received []Received
	for _, msg := range out.Messages {
		var jm JobMessage
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &jm); err != nil || jm.JobID == "" {
			logger.Warn("queue message dropped, bad payload", "body", aws.ToString(msg.Body))
			c.Delete(ctx, aws.ToString(msg.ReceiptHandle))
			continue
		}
		received = append(received, Received{
			JobID:         jm.JobID,
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return received, nil
}

// Delete acknowledges a delivery. Failures are logged, not returned: the
// worst case is one redelivery that the terminal-state guard no-ops.
func (c *Client) Delete(ctx context.Context, receiptHandle string) {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		logger.Error("queue delete failed", "error", err)
	}
}
