package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/database"
)

// Sink posts SLA notifications to a Slack channel. It satisfies the
// notification service's delivery sink interface.
type Sink struct {
	client   *slack.Client
	resolver *ChannelResolver
	channel  string
	log      *zap.Logger
}

// NewSink creates a Slack sink posting to channel (a name or an ID).
// Extra options are passed to the Slack client.
func NewSink(token, channel string, log *zap.Logger, opts ...slack.Option) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	client := slack.New(token, opts...)
	return &Sink{
		client:   client,
		resolver: NewChannelResolver(client, log),
		channel:  channel,
		log:      log.Named("slack"),
	}
}

// Name implements services.Sink
func (s *Sink) Name() string {
	return "slack"
}

// Deliver posts n to the configured channel
func (s *Sink) Deliver(ctx context.Context, n database.Notification) error {
	channelID, err := s.resolver.ResolveChannel(ctx, s.channel)
	if err != nil {
		return fmt.Errorf("resolve slack channel: %w", err)
	}

	fallback, blocks := FormatNotification(n)
	_, ts, err := s.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}

	s.log.Debug("posted notification",
		zap.String("channel", channelID),
		zap.String("ts", ts),
		zap.String("notification_id", n.UUID))
	return nil
}
