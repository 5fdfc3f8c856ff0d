//go:build !windows
// +build !windows

package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
)

var (
	awsS3Client  = s3Client()
	awsSQSClient = sqsClient()
	awsSNSClient = snsClient()
)

func awsSession(endpoint string) *session.Session {
	config := aws.NewConfig()
	config = config.WithEndpoint(endpoint)
	config = config.WithRegion(awsRegion)
	if *flagDebug {
		config = config.WithLogLevel(aws.LogDebugWithHTTPBody)
	}
	config = config.WithCredentials(credentials.NewStaticCredentials(
		awsAccessKeyID, awsSecretAccessKey, awsTokenKey))
	config = config.WithS3ForcePathStyle(true)
	config.DisableSSL = aws.Bool(true)
	return session.Must(session.NewSession(config))
}

func s3Client() *s3.S3 {
	return s3.New(awsSession(awsS3Endpoint))
}

func sqsClient() *sqs.SQS {
	return sqs.New(awsSession(awsSQSEndpoint))
}

func snsClient() *sns.SNS {
	return sns.New(awsSession(awsSNSEndpoint))
}

func createBucket(t *testing.T, name string) {
	t.Helper()
	_, err := awsS3Client.CreateBucket(&s3.CreateBucketInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
			return
		}
		t.Fatal("Cannot create bucket:", err)
	}
}

func createTopic(t *testing.T, name string) string {
	t.Helper()
	res, err := awsSNSClient.CreateTopic(&sns.CreateTopicInput{
		Name: aws.String(name),
	})
	if err != nil {
		t.Fatal("Cannot create topic:", err)
	}
	return *res.TopicArn
}

func purgeQueue(t *testing.T, queueURL string) {
	t.Helper()
	_, err := awsSQSClient.PurgeQueue(&sqs.PurgeQueueInput{
		QueueUrl: aws.String(queueURL),
	})
	if err != nil {
		t.Fatal("Cannot purge the queue: ", err)
	}
}

// subscriptions verifies that messages have been published to a SNS topic
// by reading a SQS queue subscribed to it.
type subscriptions struct {
	t   *testing.T
	sns *sns.SNS
	sqs *sqs.SQS

	subscriptionARN string
	echoQueueURL    string
}

func subscriber(t *testing.T, topicARN, queueName string) *subscriptions {
	s := &subscriptions{
		t:   t,
		sns: awsSNSClient,
		sqs: awsSQSClient,
	}

	s.echoQueueURL = s.createQueue(queueName)
	purgeQueue(t, s.echoQueueURL)
	s.subscribeQueueToTopic(topicARN, queueName)

	return s
}

func (s *subscriptions) createQueue(name string) string {
	res, err := s.sqs.CreateQueue(&sqs.CreateQueueInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		s.t.Fatalf("Cannot create queue %s: %s", name, err)
	}
	return *res.QueueUrl
}

// subscribeQueueToTopic subscribes a SQS queue to a SNS topic.
func (s *subscriptions) subscribeQueueToTopic(topicARN, queueName string) {
	endpoint := fmt.Sprintf("arn:aws:sqs:%s:%s:%s", awsRegion, awsAccountID, queueName)
	res, err := s.sns.Subscribe(&sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String("sqs"),
		Endpoint: aws.String(endpoint),
		Attributes: map[string]*string{
			"RawMessageDelivery": aws.String("true"),
		},
	})
	if err != nil {
		s.t.Fatalf("Cannot subscribe queue %s to topic %s: %s", queueName, topicARN, err)
	}
	s.subscriptionARN = aws.StringValue(res.SubscriptionArn)
}

// AssertMessageReceived waits for a message in the echo queue and returns
// its body.
func (s *subscriptions) AssertMessageReceived() string {
	s.t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		res, err := s.sqs.ReceiveMessage(&sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.echoQueueURL),
			MaxNumberOfMessages: aws.Int64(1),
			WaitTimeSeconds:     aws.Int64(1),
		})
		if err != nil {
			s.t.Fatal("Cannot receive messages:", err)
		}
		if len(res.Messages) > 0 {
			return aws.StringValue(res.Messages[0].Body)
		}
	}
	s.t.Fatal("No message was received")
	return ""
}

func (s *subscriptions) cleanUp() {
	if s.subscriptionARN != "" {
		_, _ = s.sns.Unsubscribe(&sns.UnsubscribeInput{
			SubscriptionArn: aws.String(s.subscriptionARN),
		})
	}
	purgeQueue(s.t, s.echoQueueURL)
}
