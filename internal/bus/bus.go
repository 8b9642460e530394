package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-community/heron/internal/domain"
)

// ErrBackpressure is returned by Publish when a subscriber's buffer was
// full and the message was dropped for it.
var ErrBackpressure = errors.New("subscriber buffer full, message dropped")

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

type replier interface {
	Reply(msg *domain.Message, payload []byte) error
}

// Reply answers a request message on any bus that supports request-reply.
func Reply(b domain.EventBus, msg *domain.Message, payload []byte) error {
	r, ok := b.(replier)
	if !ok {
		return fmt.Errorf("event bus %T does not support replies", b)
	}
	return r.Reply(msg, payload)
}
