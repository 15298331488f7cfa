// Package bus provides the event buses that carry run requests and
// run outcomes between Kestrel components.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultBufferSize is the per-subscription buffer of a ChannelBus.
const DefaultBufferSize = 1000

// New creates an event bus from configuration.
// "channel" returns an in-process ChannelBus, "nats" a NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Encode marshals v as the payload of an event.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return data, nil
}

// Decode unmarshals a message payload into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", msg.Topic, err)
	}
	return nil
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
