package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis fans accepted transaction frames out across processes over pub/sub,
// one channel per store key. Frames carry the publishing process id so a
// process never re-delivers its own.
type Redis struct {
	client *redis.Client
	origin string
	log    zerolog.Logger
}

type frame struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewRedis(url string, log zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Redis{client: client, origin: uuid.NewString(), log: log}, nil
}

func channelFor(storeKey string) string {
	return "collabstore:" + storeKey
}

func (r *Redis) Publish(storeKey string, msg []byte) error {
	body, err := r.encode(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(context.Background(), channelFor(storeKey), body).Err()
}

// encode wraps an envelope frame with this process's origin id.
func (r *Redis) encode(msg []byte) ([]byte, error) {
	return json.Marshal(frame{Origin: r.origin, Payload: msg})
}

// accept unwraps a pub/sub frame, filtering out frames this process
// published itself. It reports whether the payload should be delivered.
func (r *Redis) accept(data []byte) ([]byte, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		r.log.Warn().Err(err).Msg("discarding malformed relay frame")
		return nil, false
	}
	if f.Origin == r.origin {
		return nil, false
	}
	return f.Payload, true
}

// Subscribe delivers frames published for a store key by other processes.
// The returned stop func tears the subscription down.
func (r *Redis) Subscribe(storeKey string, deliver func(msg []byte)) (func(), error) {
	sub := r.client.Subscribe(context.Background(), channelFor(storeKey))
	if _, err := sub.Receive(context.Background()); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channelFor(storeKey), err)
	}
	go func() {
		for msg := range sub.Channel() {
			payload, ok := r.accept([]byte(msg.Payload))
			if !ok {
				continue
			}
			deliver(payload)
		}
	}()
	return func() { sub.Close() }, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
