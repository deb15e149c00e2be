package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeclash/backend/internal/config"
)

var rdbClient *redis.Client
var wsConfig *config.Config

// instanceID distinguishes this process in relay envelopes so it skips
// messages it published itself.
var instanceID = uuid.NewString()

const relayChannel = "room_events"

func SetRedisClient(r *redis.Client, cfg *config.Config) {
	rdbClient = r
	wsConfig = cfg
}

// relayEnvelope is the cross-instance fan-out message. Kind is "room" or
// "player"; Target is the room label or the playerId.
type relayEnvelope struct {
	Kind       string      `json:"kind"`
	Target     string      `json:"target"`
	ExceptConn string      `json:"exceptConn,omitempty"`
	Event      string      `json:"event"`
	Payload    interface{} `json:"payload,omitempty"`
	Origin     string      `json:"origin"`
}

// publishRelay forwards an event to sibling instances. Best effort: local
// delivery already happened, a lost relay only affects remotely-bound
// connections.
func publishRelay(env relayEnvelope) {
	if rdbClient == nil {
		return
	}
	env.Origin = instanceID
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[WS] Failed to marshal relay envelope: %v", err)
		return
	}
	if err := rdbClient.Publish(context.Background(), relayChannel, data).Err(); err != nil {
		log.Printf("[WS] Failed to publish relay event %s: %v", env.Event, err)
	}
}

// StartRelaySubscriber subscribes to the room_events channel and delivers
// events published by sibling instances to locally-bound connections.
func StartRelaySubscriber(ctx context.Context) {
	if rdbClient == nil {
		log.Println("[WS] Redis client not set; relay subscriber not started")
		return
	}

	pubsub := rdbClient.Subscribe(ctx, relayChannel)
	ch := pubsub.Channel()
	go func() {
		log.Println("[WS] room_events relay subscriber started")
		for msg := range ch {
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[WS] Invalid relay payload: %v", err)
				continue
			}
			if env.Origin == instanceID {
				continue
			}

			switch env.Kind {
			case "room":
				GameHub.broadcastLocal(env.Target, env.ExceptConn, env.Event, env.Payload)
			case "player":
				GameHub.sendToPlayerLocal(env.Target, env.Event, env.Payload)
			default:
				log.Printf("[WS] Unknown relay kind: %s", env.Kind)
			}
		}
	}()
}
