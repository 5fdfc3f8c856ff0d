// Package publish forwards freshly rendered maps to external services.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/JiscSD/lightning-observation-map/render"
	"github.com/JiscSD/lightning-observation-map/s3"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/pkg/errors"
)

// Mirror uploads every artifact to a fixed object storage key, overwriting
// the previous upload.
type Mirror struct {
	storage s3.ObjectStorage
	uri     string
}

// NewMirror returns a Mirror writing to s3://bucket/key.
func NewMirror(storage s3.ObjectStorage, bucket, key string) (*Mirror, error) {
	if storage == nil {
		return nil, errors.New("object storage is not configured")
	}
	if bucket == "" || key == "" {
		return nil, errors.New("bucket and key are required")
	}
	return &Mirror{storage: storage, uri: s3.URI(bucket, key)}, nil
}

func (m *Mirror) Publish(ctx context.Context, cycle string, a *render.Artifact) error {
	err := m.storage.Upload(ctx, bytes.NewReader(a.Image), m.uri, a.ContentType)
	return errors.Wrapf(err, "upload to %s failed", m.uri)
}

// URI of the mirrored object.
func (m *Mirror) URI() string {
	return m.uri
}

// Notification is the message body sent to the topic.
type Notification struct {
	Cycle       string    `json:"cycle"`
	GeneratedAt time.Time `json:"generatedAt"`
	Points      int       `json:"points"`
	ContentType string    `json:"contentType"`
	Location    string    `json:"location,omitempty"`
}

// Notifier announces every artifact on a SNS topic.
type Notifier struct {
	client   snsiface.SNSAPI
	topicARN string
	location string
}

// NewNotifier returns a Notifier. location, when not empty, is included in
// the notification so subscribers can fetch the mirrored map.
func NewNotifier(client snsiface.SNSAPI, topicARN, location string) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("sns client is not configured")
	}
	if topicARN == "" {
		return nil, errors.New("topic ARN is required")
	}
	return &Notifier{client: client, topicARN: topicARN, location: location}, nil
}

func (n *Notifier) Publish(ctx context.Context, cycle string, a *render.Artifact) error {
	payload, err := json.Marshal(Notification{
		Cycle:       cycle,
		GeneratedAt: a.GeneratedAt.UTC(),
		Points:      a.Points,
		ContentType: a.ContentType,
		Location:    n.location,
	})
	if err != nil {
		return errors.Wrap(err, "notification encoding failed")
	}
	_, err = n.client.PublishWithContext(ctx, &sns.PublishInput{
		Message:  aws.String(string(payload)),
		TopicArn: aws.String(n.topicARN),
	})
	return errors.Wrap(err, "notification could not be published")
}
