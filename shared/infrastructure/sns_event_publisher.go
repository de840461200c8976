package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/orderflow/fulfillment-system/shared/events"
)

var _ events.Publisher = (*SNSEventPublisher)(nil)

const maxBatchSize = 10

// SNSEventPublisher publishes messages to AWS SNS. Each routed channel maps
// to one topic ARN; subscribers filter on the eventType message attribute.
type SNSEventPublisher struct {
	client    *sns.Client
	topicArns map[string]string
}

// NewSNSEventPublisher creates a publisher. topicArns maps channel names
// (events.ChannelFor output) to SNS topic ARNs.
func NewSNSEventPublisher(client *sns.Client, topicArns map[string]string) *SNSEventPublisher {
	return &SNSEventPublisher{
		client:    client,
		topicArns: topicArns,
	}
}

// Publish fans batches out to their channels' topics concurrently
func (p *SNSEventPublisher) Publish(ctx context.Context, messages ...*events.Message) error {
	if len(messages) == 0 {
		return nil
	}

	// Group by destination topic first; SNS batches are per topic.
	byChannel := make(map[string][]*events.Message)
	for _, message := range messages {
		if message == nil || message.EventType == "" {
			return events.ErrInvalidEventType
		}
		channel := events.ChannelFor(message.EventType)
		byChannel[channel] = append(byChannel[channel], message)
	}

	gr, ctx := errgroup.WithContext(ctx)
	for channel, channelMessages := range byChannel {
		topicArn, ok := p.topicArns[channel]
		if !ok {
			return errors.Errorf("no SNS topic configured for channel %s", channel)
		}

		for _, batch := range splitToChunks(channelMessages, maxBatchSize) {
			batch := batch
			gr.Go(func() error {
				return p.batchPublish(ctx, topicArn, batch)
			})
		}
	}

	return gr.Wait()
}

func (p *SNSEventPublisher) batchPublish(ctx context.Context, topicArn string, messages []*events.Message) error {
	requests := make([]types.PublishBatchRequestEntry, len(messages))

	for i, message := range messages {
		body, err := message.ToJSON()
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}

		requests[i] = types.PublishBatchRequestEntry{
			Id:      aws.String(message.CorrelationID.String()),
			Message: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"eventType": {
					DataType:    aws.String("String"),
					StringValue: aws.String(message.EventType),
				},
				"channel": {
					DataType:    aws.String("String"),
					StringValue: aws.String(events.ChannelFor(message.EventType)),
				},
			},
		}
	}

	res, err := p.client.PublishBatch(ctx, &sns.PublishBatchInput{
		TopicArn:                   &topicArn,
		PublishBatchRequestEntries: requests,
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish batch to SNS")
	}
	if len(res.Failed) > 0 {
		return errors.Errorf("%d of %d messages failed to publish", len(res.Failed), len(messages))
	}

	return nil
}

// splitToChunks splits slice into chunks of specified size
func splitToChunks[T any](slice []T, chunkSize int) [][]T {
	var chunks [][]T
	for i := 0; i < len(slice); i += chunkSize {
		end := i + chunkSize
		if end > len(slice) {
			end = len(slice)
		}
		chunks = append(chunks, slice[i:end])
	}
	return chunks
}
