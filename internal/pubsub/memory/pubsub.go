package memory

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/pubsub"
)

// PubSub implements both Publisher and Subscriber interfaces using watermill's gochannel
type PubSub struct {
	pubsub *gochannel.GoChannel
	config *config.WebhookConfig
	logger *logger.Logger
}

// NewPubSub creates a new memory-based pubsub
func NewPubSub(
	cfg *config.Configuration,
	logger *logger.Logger,
) pubsub.PubSub {
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{
			// Enable persistence to ensure messages aren't lost
			Persistent: true,
			// Buffer size for output channel
			OutputChannelBuffer: 100,
		},
		watermill.NewStdLogger(false, false),
	)

	return &PubSub{
		pubsub: goChannel,
		config: &cfg.Webhook,
		logger: logger,
	}
}

// Publish publishes a webhook event
func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	return p.pubsub.Publish(topic, msg)
}

// Subscribe starts consuming webhook events
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.pubsub.Subscribe(ctx, topic)
}

// Close closes both publisher and subscriber
func (p *PubSub) Close() error {
	return p.pubsub.Close()
}
