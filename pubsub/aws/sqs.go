package aws

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"

	"github.com/NYTimes/mqcli/pubsub"
)

func (c *connection) queueURL(ctx context.Context, queue string) (string, error) {
	input := &sqs.GetQueueUrlInput{QueueName: aws.String(queue)}
	if c.cfg.QueueOwnerAccountID != "" {
		input.QueueOwnerAWSAccountId = aws.String(c.cfg.QueueOwnerAccountID)
	}
	out, err := c.sqs.GetQueueUrlWithContext(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.QueueUrl), nil
}

func (c *connection) createQueue(ctx context.Context, queue string) (string, error) {
	out, err := c.sqs.CreateQueueWithContext(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.QueueUrl), nil
}

func (c *connection) queueARN(ctx context.Context, queueURL string) (string, error) {
	out, err := c.sqs.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: aws.StringSlice([]string{sqs.QueueAttributeNameQueueArn}),
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.Attributes[sqs.QueueAttributeNameQueueArn]), nil
}

func (c *connection) sender(queueURL string) func(context.Context, *pubsub.Message) error {
	return func(ctx context.Context, m *pubsub.Message) error {
		_, err := c.sqs.SendMessageWithContext(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueURL),
			MessageBody: aws.String(m.Text),
			MessageAttributes: map[string]*sqs.MessageAttributeValue{
				pubsub.MessageIDHeader: {
					DataType:    aws.String("String"),
					StringValue: aws.String(m.ID),
				},
			},
		})
		return err
	}
}

// consumer long polls an SQS queue and deletes every message it returns.
type consumer struct {
	sess     *session
	dest     pubsub.Destination
	queueURL string
	// sub is set for temporary topic subscriptions, which are torn down on
	// Close.
	sub *subscription

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (c *consumer) Receive(ctx context.Context, timeout time.Duration) (*pubsub.Message, error) {
	select {
	case <-c.done:
		return nil, pubsub.NewError(name, "receive", pubsub.ErrClosed)
	default:
	}
	if !c.sess.conn.isStarted() {
		return nil, pubsub.NewError(name, "receive", pubsub.ErrNotStarted)
	}

	cfg := c.sess.conn.cfg
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		wait := *cfg.TimeoutSeconds
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if secs := int64(remaining / time.Second); secs < wait {
				wait = secs
			}
		}

		pubsub.Log.Debugf("aws: receiving from %s", c.queueURL)
		resp, err := c.sess.conn.sqs.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   aws.Int64(1),
			WaitTimeSeconds:       aws.Int64(wait),
			MessageAttributeNames: aws.StringSlice([]string{"All"}),
			AttributeNames:        aws.StringSlice([]string{sqs.MessageSystemAttributeNameSentTimestamp}),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, pubsub.NewError(name, "receive", ctx.Err())
			}
			return nil, pubsub.NewError(name, "receive", err)
		}

		if len(resp.Messages) == 0 {
			sleep := *cfg.SleepInterval
			if !deadline.IsZero() {
				if remaining := time.Until(deadline); remaining < sleep {
					sleep = remaining
				}
			}
			if err := pause(ctx, sleep); err != nil {
				return nil, pubsub.NewError(name, "receive", err)
			}
			continue
		}

		msg := resp.Messages[0]
		if _, err := c.sess.conn.sqs.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			return nil, pubsub.NewError(name, "acknowledge", err)
		}
		return c.toMessage(msg), nil
	}
}

func (c *consumer) toMessage(msg *sqs.Message) *pubsub.Message {
	m := &pubsub.Message{
		ID:          "ID:" + aws.StringValue(msg.MessageId),
		Destination: c.dest,
		Text:        aws.StringValue(msg.Body),
	}
	if attr, ok := msg.MessageAttributes[pubsub.MessageIDHeader]; ok && attr.StringValue != nil {
		m.ID = *attr.StringValue
	}
	if sent, ok := msg.Attributes[sqs.MessageSystemAttributeNameSentTimestamp]; ok {
		if ms, err := strconv.ParseInt(aws.StringValue(sent), 10, 64); err == nil {
			m.Timestamp = time.Unix(0, ms*int64(time.Millisecond))
		}
	}
	return m
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close will unsubscribe and delete the queue of a temporary topic
// subscription. Queues and durable subscriptions are left in place.
func (c *consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sub != nil {
			c.closeErr = pubsub.NewError(name, "close consumer", c.sess.conn.unsubscribe(context.Background(), c.sub))
		}
	})
	return c.closeErr
}
