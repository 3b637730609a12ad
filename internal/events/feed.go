package events

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/pkg/kafka"
)

// FeedConsumer drains the discount event topic and renders each event as a
// human-readable console feed line. It is a plain subscriber: core logic
// never waits on it.
type FeedConsumer struct {
	consumer *kafka.Consumer
	logger   *zap.Logger
}

// NewFeedConsumer creates a consumer for the discount event feed.
func NewFeedConsumer(brokers []string, groupID string, logger *zap.Logger) *FeedConsumer {
	return &FeedConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, TopicDiscountEvents, logger),
		logger:   logger.Named("feed"),
	}
}

// Start consumes feed events until the context is cancelled.
func (f *FeedConsumer) Start(ctx context.Context) error {
	return f.consumer.Consume(ctx, f.handleMessage)
}

func (f *FeedConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	ce, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		f.logger.Error("failed to parse feed event",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return err
	}

	f.logger.Info(renderLine(ce), zap.String("type", ce.Type))
	return nil
}

// renderLine formats an event in the style of the old scheduler console.
func renderLine(ce kafka.CloudEvent) string {
	switch ce.Type {
	case DiscountJobCreated, DiscountJobApplied, DiscountJobFinished, DiscountJobFailed, DiscountJobCanceled:
		var ev JobEvent
		if err := ce.ParseData(&ev); err != nil {
			return ce.Type
		}
		switch ce.Type {
		case DiscountJobCreated:
			return fmt.Sprintf("discount job created id=%d value=%d%%", ev.JobID, ev.DiscountValue)
		case DiscountJobApplied:
			return fmt.Sprintf("discount job applied id=%d value=%d%%", ev.JobID, ev.DiscountValue)
		case DiscountJobFinished:
			revert := 0
			if ev.RevertValue != nil {
				revert = *ev.RevertValue
			}
			return fmt.Sprintf("discount job finished id=%d revert=%d%%", ev.JobID, revert)
		case DiscountJobFailed:
			return fmt.Sprintf("discount job failed id=%d: %s", ev.JobID, ev.Reason)
		default:
			return fmt.Sprintf("discount job canceled id=%d", ev.JobID)
		}
	case InviteCreated, InviteRedeemed, RoleChanged:
		var ev AccessEvent
		if err := ce.ParseData(&ev); err != nil {
			return ce.Type
		}
		switch ce.Type {
		case InviteCreated:
			return fmt.Sprintf("invite created role=%s by=%s", ev.Role, ev.Actor)
		case InviteRedeemed:
			return fmt.Sprintf("invite used role=%s by=%s", ev.Role, ev.Subject)
		default:
			return fmt.Sprintf("role changed %s -> %s by=%s", ev.Subject, ev.Role, ev.Actor)
		}
	default:
		return "unhandled event " + ce.Type
	}
}

// Close closes the underlying Kafka consumer.
func (f *FeedConsumer) Close() error {
	return f.consumer.Close()
}
