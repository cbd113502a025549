package aws

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/pubsub"
)

// subscription is an SQS queue subscribed to an SNS topic.
type subscription struct {
	queueURL        string
	subscriptionARN string
}

func (c *connection) createTopic(ctx context.Context, topic string) (string, error) {
	// CreateTopic returns the existing topic when it is already there.
	out, err := c.sns.CreateTopicWithContext(ctx, &sns.CreateTopicInput{Name: aws.String(resourceName(topic))})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.TopicArn), nil
}

func (c *connection) publisher(topicARN string) func(context.Context, *pubsub.Message) error {
	return func(ctx context.Context, m *pubsub.Message) error {
		_, err := c.sns.PublishWithContext(ctx, &sns.PublishInput{
			TopicArn: aws.String(topicARN),
			Message:  aws.String(m.Text),
			MessageAttributes: map[string]*sns.MessageAttributeValue{
				pubsub.MessageIDHeader: {
					DataType:    aws.String("String"),
					StringValue: aws.String(m.ID),
				},
			},
		})
		return err
	}
}

// subscribe will route the topic to an SQS queue. Durable subscriptions use
// the queue <topic>-<name> so a later run picks up what arrived meanwhile.
// Temporary ones get a unique queue.
func (c *connection) subscribe(ctx context.Context, topic, subName string, temporary bool) (*subscription, error) {
	topicARN, err := c.createTopic(ctx, topic)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create topic")
	}

	queue := resourceName(topic, subName)
	if temporary {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		queue = resourceName(id.String(), topic)
	}
	queueURL, err := c.createQueue(ctx, queue)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create subscription queue")
	}
	queueARN, err := c.queueARN(ctx, queueURL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to look up subscription queue")
	}

	policy, err := queuePolicy(queueARN, topicARN)
	if err != nil {
		return nil, err
	}
	if _, err = c.sqs.SetQueueAttributesWithContext(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(queueURL),
		Attributes: map[string]*string{sqs.QueueAttributeNamePolicy: aws.String(policy)},
	}); err != nil {
		return nil, errors.Wrap(err, "unable to allow topic delivery")
	}

	out, err := c.sns.SubscribeWithContext(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(topicARN),
		Protocol:              aws.String("sqs"),
		Endpoint:              aws.String(queueARN),
		Attributes:            map[string]*string{"RawMessageDelivery": aws.String("true")},
		ReturnSubscriptionArn: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to subscribe")
	}
	pubsub.Log.Debugf("aws: subscribed %s to %s", queueARN, topicARN)

	return &subscription{queueURL: queueURL, subscriptionARN: aws.StringValue(out.SubscriptionArn)}, nil
}

func (c *connection) unsubscribe(ctx context.Context, sub *subscription) error {
	if _, err := c.sns.UnsubscribeWithContext(ctx, &sns.UnsubscribeInput{
		SubscriptionArn: aws.String(sub.subscriptionARN),
	}); err != nil {
		return errors.Wrap(err, "unable to unsubscribe")
	}
	_, err := c.sqs.DeleteQueueWithContext(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(sub.queueURL)})
	return errors.Wrap(err, "unable to delete subscription queue")
}

type policyStatement struct {
	Effect    string
	Principal map[string]string
	Action    string
	Resource  string
	Condition map[string]map[string]string
}

// queuePolicy allows the topic to deliver into the queue.
func queuePolicy(queueARN, topicARN string) (string, error) {
	doc := struct {
		Version   string
		Statement []policyStatement
	}{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Service": "sns.amazonaws.com"},
			Action:    "sqs:SendMessage",
			Resource:  queueARN,
			Condition: map[string]map[string]string{
				"ArnEquals": {"aws:SourceArn": topicARN},
			},
		}},
	}
	b, err := json.Marshal(doc)
	return string(b), err
}
