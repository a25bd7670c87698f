package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Relay forwards broadcasts between hubs in different processes over Redis
// pub/sub. It only carries BroadcastToAll/BroadcastExcept traffic; presence
// events stay local because each process owns its own session registry.
type Relay struct {
	client  *redis.Client
	channel string
	hubID   string
}

type relayMessage struct {
	HubID          string          `json:"hubId"`
	EventType      EventType       `json:"eventType"`
	Data           json.RawMessage `json:"data"`
	ExcludedUserID string          `json:"excludedUserId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// AttachRelay enables the cross-process relay on the hub
func (h *Hub) AttachRelay(client *redis.Client, channel string) *Relay {
	h.relay = &Relay{
		client:  client,
		channel: channel,
		hubID:   uuid.New().String(),
	}
	return h.relay
}

func (h *Hub) publishRelay(eventType EventType, data interface{}, excludedUserID string) {
	if h.relay == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal relay payload", "event_type", eventType, "error", err)
		return
	}
	msg, err := json.Marshal(relayMessage{
		HubID:          h.relay.hubID,
		EventType:      eventType,
		Data:           raw,
		ExcludedUserID: excludedUserID,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal relay message", "event_type", eventType, "error", err)
		return
	}

	if err := h.relay.client.Publish(context.Background(), h.relay.channel, msg).Err(); err != nil {
		h.logger.Error("Failed to publish relay message", "event_type", eventType, "error", err)
	}
}

// RunRelay subscribes to the relay channel and re-broadcasts messages from
// other processes to local sessions. Blocks until ctx is cancelled.
func (h *Hub) RunRelay(ctx context.Context) {
	if h.relay == nil {
		return
	}

	pubsub := h.relay.client.Subscribe(ctx, h.relay.channel)
	defer pubsub.Close()

	h.logger.Info("Broadcast relay started", "channel", h.relay.channel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var relayed relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
				h.logger.Warn("Malformed relay message", "error", err)
				continue
			}
			// Skip our own publications; local delivery already happened
			if relayed.HubID == h.relay.hubID {
				continue
			}
			h.broadcast(relayed.EventType, relayed.Data, relayed.ExcludedUserID, "")
		}
	}
}
