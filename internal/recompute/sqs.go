package recompute

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"

	"github.com/ignite/leadtrack/internal/pkg/logger"
	"github.com/ignite/leadtrack/internal/service/engagement"
)

// SQSAPI is the subset of *sqs.Client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Message is the queue body for one recompute request.
type Message struct {
	LeadID      string    `json:"lead_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher sends recompute requests to SQS. Sends run on their own
// goroutine with a timeout so the caller never waits on AWS.
type Publisher struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewPublisher creates a publisher for queueURL.
func NewPublisher(client SQSAPI, queueURL string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, queueURL: queueURL, timeout: timeout}
}

func (p *Publisher) Trigger(_ context.Context, leadID string) {
	body, err := json.Marshal(Message{LeadID: leadID, RequestedAt: time.Now().UTC()})
	if err != nil {
		logger.Error("marshal recompute message", "lead_id", leadID, "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publish recompute request", "lead_id", leadID, "error", err)
		}
	}()
}

// Wait blocks until in-flight sends finish.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// ConsumerConfig controls SQS long polling.
type ConsumerConfig struct {
	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
	ErrorBackoff      time.Duration
}

// Consumer long-polls the recompute queue and replays each requested lead.
// A message is deleted once the lead is rebuilt, or when it can never
// succeed (bad body, lead without tokens). Other failures leave it for
// redelivery after the visibility timeout.
type Consumer struct {
	client   SQSAPI
	queueURL string
	agg      Recomputer
	cfg      ConsumerConfig
}

// NewConsumer creates a consumer for queueURL.
func NewConsumer(client SQSAPI, queueURL string, agg Recomputer, cfg ConsumerConfig) *Consumer {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 10
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Consumer{client: client, queueURL: queueURL, agg: agg, cfg: cfg}
}

// Serve polls until ctx is cancelled.
func (c *Consumer) Serve(ctx context.Context) error {
	logger.Info("recompute consumer started", "queue", c.queueURL)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: c.cfg.MaxMessages,
			WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
			VisibilityTimeout:   c.cfg.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("receive recompute messages", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ErrorBackoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	var m Message
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &m); err != nil || m.LeadID == "" {
		logger.Warn("discarding malformed recompute message", "message_id", aws.ToString(msg.MessageId), "error", err)
		c.delete(ctx, msg.ReceiptHandle)
		return
	}

	err := run(ctx, c.agg, m.LeadID, "sqs")
	if err != nil && !errors.Is(err, engagement.ErrNotFound) {
		return
	}
	c.delete(ctx, msg.ReceiptHandle)
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Error("delete recompute message", "error", err)
	}
}
