package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/google/go-cmp/cmp"

	"github.com/NYTimes/mqcli/pubsub"
)

const queuePrefix = "https://sqs.local/000000000000/"

// TestSQSAPI is an in-memory stand in for SQS. Only the calls the provider
// makes are implemented.
type TestSQSAPI struct {
	sqsiface.SQSAPI

	mu       sync.Mutex
	queues   map[string][]*sqs.Message
	attrs    map[string]map[string]*string
	sent     []*sqs.SendMessageInput
	deleted  []string
	dropped  []string
	received int
	seq      int

	// ReceiveErr will be returned by ReceiveMessage.
	ReceiveErr error
}

func newTestSQSAPI(queues ...string) *TestSQSAPI {
	api := &TestSQSAPI{queues: map[string][]*sqs.Message{}, attrs: map[string]map[string]*string{}}
	for _, q := range queues {
		api.queues[q] = nil
	}
	return api
}

func queueName(url *string) string {
	return strings.TrimPrefix(aws.StringValue(url), queuePrefix)
}

func (t *TestSQSAPI) GetQueueUrlWithContext(_ aws.Context, in *sqs.GetQueueUrlInput, _ ...request.Option) (*sqs.GetQueueUrlOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.queues[*in.QueueName]; !ok {
		return nil, awserr.New(sqs.ErrCodeQueueDoesNotExist, "queue does not exist", nil)
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(queuePrefix + *in.QueueName)}, nil
}

func (t *TestSQSAPI) CreateQueueWithContext(_ aws.Context, in *sqs.CreateQueueInput, _ ...request.Option) (*sqs.CreateQueueOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.queues[*in.QueueName]; !ok {
		t.queues[*in.QueueName] = nil
	}
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(queuePrefix + *in.QueueName)}, nil
}

func (t *TestSQSAPI) GetQueueAttributesWithContext(_ aws.Context, in *sqs.GetQueueAttributesInput, _ ...request.Option) (*sqs.GetQueueAttributesOutput, error) {
	arn := "arn:aws:sqs:us-east-1:000000000000:" + queueName(in.QueueUrl)
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]*string{sqs.QueueAttributeNameQueueArn: aws.String(arn)}}, nil
}

func (t *TestSQSAPI) SetQueueAttributesWithContext(_ aws.Context, in *sqs.SetQueueAttributesInput, _ ...request.Option) (*sqs.SetQueueAttributesOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attrs[queueName(in.QueueUrl)] = in.Attributes
	return &sqs.SetQueueAttributesOutput{}, nil
}

func (t *TestSQSAPI) SendMessageWithContext(_ aws.Context, in *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, in)
	t.put(queueName(in.QueueUrl), in.MessageBody, in.MessageAttributes)
	return &sqs.SendMessageOutput{}, nil
}

func (t *TestSQSAPI) put(queue string, body *string, attrs map[string]*sqs.MessageAttributeValue) {
	t.seq++
	handle := fmt.Sprintf("%s-%d", queue, t.seq)
	t.queues[queue] = append(t.queues[queue], &sqs.Message{
		MessageId:         aws.String(handle),
		ReceiptHandle:     aws.String(handle),
		Body:              body,
		MessageAttributes: attrs,
		Attributes: map[string]*string{
			sqs.MessageSystemAttributeNameSentTimestamp: aws.String("1500000000000"),
		},
	})
}

func (t *TestSQSAPI) ReceiveMessageWithContext(ctx aws.Context, in *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received++
	if t.ReceiveErr != nil {
		return nil, t.ReceiveErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := queueName(in.QueueUrl)
	if len(t.queues[q]) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	msg := t.queues[q][0]
	t.queues[q] = t.queues[q][1:]
	return &sqs.ReceiveMessageOutput{Messages: []*sqs.Message{msg}}, nil
}

func (t *TestSQSAPI) DeleteMessageWithContext(_ aws.Context, in *sqs.DeleteMessageInput, _ ...request.Option) (*sqs.DeleteMessageOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (t *TestSQSAPI) DeleteQueueWithContext(_ aws.Context, in *sqs.DeleteQueueInput, _ ...request.Option) (*sqs.DeleteQueueOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := queueName(in.QueueUrl)
	delete(t.queues, q)
	t.dropped = append(t.dropped, q)
	return &sqs.DeleteQueueOutput{}, nil
}

func (t *TestSQSAPI) depth(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues[queue])
}

// TestSNSAPI is an in-memory stand in for SNS that delivers raw messages to
// subscribed TestSQSAPI queues.
type TestSNSAPI struct {
	snsiface.SNSAPI

	sqs *TestSQSAPI

	mu            sync.Mutex
	subscriptions map[string]string
	published     []*sns.PublishInput
	unsubscribed  []string
}

func newTestSNSAPI(sqsAPI *TestSQSAPI) *TestSNSAPI {
	return &TestSNSAPI{sqs: sqsAPI, subscriptions: map[string]string{}}
}

func (t *TestSNSAPI) CreateTopicWithContext(_ aws.Context, in *sns.CreateTopicInput, _ ...request.Option) (*sns.CreateTopicOutput, error) {
	return &sns.CreateTopicOutput{TopicArn: aws.String("arn:aws:sns:us-east-1:000000000000:" + *in.Name)}, nil
}

func (t *TestSNSAPI) SubscribeWithContext(_ aws.Context, in *sns.SubscribeInput, _ ...request.Option) (*sns.SubscribeOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if aws.StringValue(in.Attributes["RawMessageDelivery"]) != "true" {
		return nil, errors.New("expected raw message delivery")
	}
	arn := *in.TopicArn + ":" + *in.Endpoint
	parts := strings.Split(*in.Endpoint, ":")
	t.subscriptions[arn] = parts[len(parts)-1]
	return &sns.SubscribeOutput{SubscriptionArn: aws.String(arn)}, nil
}

func (t *TestSNSAPI) UnsubscribeWithContext(_ aws.Context, in *sns.UnsubscribeInput, _ ...request.Option) (*sns.UnsubscribeOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscriptions, *in.SubscriptionArn)
	t.unsubscribed = append(t.unsubscribed, *in.SubscriptionArn)
	return &sns.UnsubscribeOutput{}, nil
}

func (t *TestSNSAPI) PublishWithContext(_ aws.Context, in *sns.PublishInput, _ ...request.Option) (*sns.PublishOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, in)

	attrs := map[string]*sqs.MessageAttributeValue{}
	for k, v := range in.MessageAttributes {
		attrs[k] = &sqs.MessageAttributeValue{DataType: v.DataType, StringValue: v.StringValue}
	}
	t.sqs.mu.Lock()
	defer t.sqs.mu.Unlock()
	for arn, queue := range t.subscriptions {
		if strings.HasPrefix(arn, *in.TopicArn+":") {
			t.sqs.put(queue, in.Message, attrs)
		}
	}
	return &sns.PublishOutput{}, nil
}

type testEnv struct {
	provider *Provider
	sqs      *TestSQSAPI
	sns      *TestSNSAPI
	awsCfg   *aws.Config
}

func newTestEnv(queues ...string) *testEnv {
	sleep := 5 * time.Millisecond
	env := &testEnv{sqs: newTestSQSAPI(queues...)}
	env.sns = newTestSNSAPI(env.sqs)
	env.provider = NewProvider(Config{SleepInterval: &sleep})
	env.provider.newClients = func(_ Config, awsCfg *aws.Config) (sqsiface.SQSAPI, snsiface.SNSAPI, error) {
		env.awsCfg = awsCfg
		return env.sqs, env.sns, nil
	}
	return env
}

func (e *testEnv) session(t *testing.T, mode pubsub.SessionMode, clientID string) (pubsub.Connection, pubsub.Session) {
	t.Helper()
	ctx := context.Background()
	conn, err := e.provider.Connect(ctx, pubsub.Properties{
		Host: "localhost", Port: 4566, QueueManager: "us-east-1", ClientID: clientID,
	})
	if err != nil {
		t.Fatalf("unable to connect: %s", err)
	}
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("unable to start: %s", err)
	}
	sess, err := conn.NewSession(ctx, mode)
	if err != nil {
		t.Fatalf("unable to create session: %s", err)
	}
	return conn, sess
}

func TestConnectConfig(t *testing.T) {
	env := newTestEnv()
	_, err := env.provider.Connect(context.Background(), pubsub.Properties{
		Host: "localhost", Port: 4566, QueueManager: "eu-west-1",
		User: "AKID", Password: "SECRET", Authenticate: true,
	})
	if err != nil {
		t.Fatalf("unable to connect: %s", err)
	}
	if got := aws.StringValue(env.awsCfg.Region); got != "eu-west-1" {
		t.Errorf("expected region eu-west-1, got %q", got)
	}
	if got := aws.StringValue(env.awsCfg.Endpoint); got != "http://localhost:4566" {
		t.Errorf("expected the client endpoint, got %q", got)
	}
	creds, err := env.awsCfg.Credentials.Get()
	if err != nil {
		t.Fatalf("unable to read credentials: %s", err)
	}
	if creds.AccessKeyID != "AKID" || creds.SecretAccessKey != "SECRET" {
		t.Errorf("unexpected credentials: %+v", creds)
	}

	endpoint := "http://aws.internal"
	env.provider.cfg.EndpointURL = &endpoint
	if _, err := env.provider.Connect(context.Background(), pubsub.Properties{
		QueueManager: "eu-west-1", Transport: pubsub.TransportBindings,
	}); err != nil {
		t.Fatalf("unable to connect: %s", err)
	}
	if got := aws.StringValue(env.awsCfg.Endpoint); got != endpoint {
		t.Errorf("expected the configured endpoint, got %q", got)
	}
	if env.awsCfg.Credentials != nil {
		t.Error("expected the default credential chain without a user")
	}
}

func TestNewClients(t *testing.T) {
	cfg := Config{}
	cfg.AccessKey, cfg.SecretKey = "AKID", "SECRET"
	awsCfg := aws.NewConfig().WithRegion("eu-west-1").WithEndpoint("http://localhost:4566")

	sqsClient, snsClient, err := newClients(cfg, awsCfg)
	if err != nil {
		t.Fatalf("unable to create clients: %s", err)
	}
	if sqsClient == nil || snsClient == nil {
		t.Fatal("expected both clients")
	}
	if awsCfg.Credentials == nil {
		t.Fatal("expected the configured keys to be used")
	}
	creds, err := awsCfg.Credentials.Get()
	if err != nil || creds.AccessKeyID != "AKID" {
		t.Errorf("unexpected credentials: %+v, %v", creds, err)
	}
}

func TestConnectRequiresRegion(t *testing.T) {
	_, err := newTestEnv().provider.Connect(context.Background(), pubsub.Properties{Host: "localhost", Port: 4566})
	if err == nil {
		t.Fatal("expected an error without a region")
	}
}

func TestQueueRoundTrip(t *testing.T) {
	env := newTestEnv("Q1")
	ctx := context.Background()

	conn, sess := env.session(t, pubsub.Transacted, "")
	defer conn.Close()
	prod, err := sess.NewProducer(ctx, pubsub.ParseDestination("Q1"))
	if err != nil {
		t.Fatalf("unable to create producer: %s", err)
	}
	sent := pubsub.NewTextMessage("hello")
	if err := prod.Send(ctx, sent); err != nil {
		t.Fatalf("unable to send: %s", err)
	}
	if got := env.sqs.depth("Q1"); got != 0 {
		t.Fatalf("expected nothing on the queue before commit, got %d", got)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("unable to commit: %s", err)
	}
	if got := env.sqs.depth("Q1"); got != 1 {
		t.Fatalf("expected 1 message on the queue after commit, got %d", got)
	}

	cconn, csess := env.session(t, pubsub.AutoAcknowledge, "D-001")
	defer cconn.Close()
	cons, err := csess.NewConsumer(ctx, pubsub.ParseDestination("Q1"))
	if err != nil {
		t.Fatalf("unable to create consumer: %s", err)
	}
	got, err := cons.Receive(ctx, time.Second)
	if err != nil || got == nil {
		t.Fatalf("expected a message, got %v, %v", got, err)
	}
	if got.ID != sent.ID || got.Text != "hello" || got.Destination.Name != "Q1" {
		t.Errorf("unexpected message: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected the sent timestamp to be set")
	}
	if len(env.sqs.deleted) != 1 {
		t.Errorf("expected the message to be deleted, got %v", env.sqs.deleted)
	}
}

func TestReceiveTimeout(t *testing.T) {
	env := newTestEnv("Q1")
	conn, sess := env.session(t, pubsub.AutoAcknowledge, "")
	defer conn.Close()
	cons, err := sess.NewConsumer(context.Background(), pubsub.ParseDestination("Q1"))
	if err != nil {
		t.Fatalf("unable to create consumer: %s", err)
	}

	start := time.Now()
	got, err := cons.Receive(context.Background(), 50*time.Millisecond)
	if got != nil || err != nil {
		t.Errorf("expected a timeout, got %v, %v", got, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("returned before the timeout elapsed")
	}
	if env.sqs.received < 2 {
		t.Errorf("expected the queue to be polled more than once, got %d", env.sqs.received)
	}
}

func TestReceiveError(t *testing.T) {
	env := newTestEnv("Q1")
	wantErr := errors.New("my sqs error")
	env.sqs.ReceiveErr = wantErr
	conn, sess := env.session(t, pubsub.AutoAcknowledge, "")
	defer conn.Close()
	cons, _ := sess.NewConsumer(context.Background(), pubsub.ParseDestination("Q1"))

	_, err := cons.Receive(context.Background(), time.Second)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
	var perr *pubsub.Error
	if !errors.As(err, &perr) || perr.Op != "receive" {
		t.Errorf("expected a receive *pubsub.Error, got %#v", err)
	}
}

func TestMissingQueue(t *testing.T) {
	env := newTestEnv()
	conn, sess := env.session(t, pubsub.AutoAcknowledge, "")
	defer conn.Close()

	_, err := sess.NewConsumer(context.Background(), pubsub.ParseDestination("NOPE"))
	if err == nil {
		t.Fatal("expected an error for a missing queue")
	}
	causes := pubsub.Causes(err)
	if len(causes) < 2 {
		t.Fatalf("expected nested causes, got %v", causes)
	}
	if aerr, ok := causes[len(causes)-1].(awserr.Error); !ok || aerr.Code() != sqs.ErrCodeQueueDoesNotExist {
		t.Errorf("expected the SQS error as the innermost cause, got %#v", causes[len(causes)-1])
	}
}

func TestDurableTopicSubscription(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	cconn, csess := env.session(t, pubsub.AutoAcknowledge, "D-001")
	cons, err := csess.NewDurableSubscriber(ctx, pubsub.ParseDestination("topic://news"), "D-001")
	if err != nil {
		t.Fatalf("unable to subscribe: %s", err)
	}

	policy := aws.StringValue(env.sqs.attrs["news-D-001"][sqs.QueueAttributeNamePolicy])
	var doc struct {
		Statement []policyStatement
	}
	if err := json.Unmarshal([]byte(policy), &doc); err != nil {
		t.Fatalf("unable to parse policy %q: %s", policy, err)
	}
	want := []policyStatement{{
		Effect:    "Allow",
		Principal: map[string]string{"Service": "sns.amazonaws.com"},
		Action:    "sqs:SendMessage",
		Resource:  "arn:aws:sqs:us-east-1:000000000000:news-D-001",
		Condition: map[string]map[string]string{
			"ArnEquals": {"aws:SourceArn": "arn:aws:sns:us-east-1:000000000000:news"},
		},
	}}
	if diff := cmp.Diff(want, doc.Statement); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}

	// the subscription outlives the consumer.
	if err := cconn.Close(); err != nil {
		t.Fatalf("unable to close: %s", err)
	}
	if len(env.sns.unsubscribed) != 0 || len(env.sqs.dropped) != 0 {
		t.Errorf("expected the durable subscription to survive close")
	}
	_ = cons

	pconn, psess := env.session(t, pubsub.Transacted, "")
	defer pconn.Close()
	prod, err := psess.NewProducer(ctx, pubsub.ParseDestination("topic://news"))
	if err != nil {
		t.Fatalf("unable to create producer: %s", err)
	}
	if err := prod.Send(ctx, pubsub.NewTextMessage("extra extra")); err != nil {
		t.Fatalf("unable to send: %s", err)
	}
	if err := psess.Commit(ctx); err != nil {
		t.Fatalf("unable to commit: %s", err)
	}

	cconn, csess = env.session(t, pubsub.AutoAcknowledge, "D-001")
	defer cconn.Close()
	cons, err = csess.NewDurableSubscriber(ctx, pubsub.ParseDestination("topic://news"), "D-001")
	if err != nil {
		t.Fatalf("unable to subscribe again: %s", err)
	}
	got, err := cons.Receive(ctx, time.Second)
	if err != nil || got == nil {
		t.Fatalf("expected the retained message, got %v, %v", got, err)
	}
	if got.Text != "extra extra" || !got.Destination.IsTopic() {
		t.Errorf("unexpected message: %+v", got)
	}
}

func TestTemporaryTopicSubscription(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	conn, sess := env.session(t, pubsub.AutoAcknowledge, "")
	cons, err := sess.NewConsumer(ctx, pubsub.ParseDestination("topic://news"))
	if err != nil {
		t.Fatalf("unable to subscribe: %s", err)
	}
	if len(env.sns.subscriptions) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(env.sns.subscriptions))
	}
	if err := cons.Close(); err != nil {
		t.Fatalf("unable to close consumer: %s", err)
	}
	if len(env.sns.unsubscribed) != 1 || len(env.sqs.dropped) != 1 {
		t.Errorf("expected the temporary subscription to be removed, got %v and %v",
			env.sns.unsubscribed, env.sqs.dropped)
	}
	conn.Close()
}

func TestDurableSubscriberRequiresTopic(t *testing.T) {
	env := newTestEnv("Q1")
	conn, sess := env.session(t, pubsub.AutoAcknowledge, "")
	defer conn.Close()

	_, err := sess.NewDurableSubscriber(context.Background(), pubsub.ParseDestination("Q1"), "D-001")
	if !errors.Is(err, pubsub.ErrNotTopic) {
		t.Errorf("expected ErrNotTopic, got %v", err)
	}
}

func TestResourceName(t *testing.T) {
	tests := []struct {
		given []string
		want  string
	}{
		{[]string{"news"}, "news"},
		{[]string{"a/b.c", "D-001"}, "a_b_c-D-001"},
		{[]string{strings.Repeat("x", 100)}, strings.Repeat("x", 80)},
	}
	for _, test := range tests {
		if got := resourceName(test.given...); got != test.want {
			t.Errorf("resourceName(%q) = %q, want %q", test.given, got, test.want)
		}
	}
}
