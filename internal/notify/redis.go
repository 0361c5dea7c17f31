package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Channel  string `mapstructure:"channel"`
}

const defaultRedisChannel = "silo-stations:state-changes"

// Event is the JSON form of a state change sent to Redis and WebSocket
// subscribers.
type Event struct {
	StationID int64     `json:"stationId"`
	OldState  string    `json:"oldState"`
	NewState  string    `json:"newState"`
	ActorID   int64     `json:"actorId,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	At        time.Time `json:"at"`
}

func NewEvent(change domain.StateChange) Event {
	return Event{
		StationID: change.StationID,
		OldState:  string(change.OldState),
		NewState:  string(change.NewState),
		ActorID:   change.ActorID,
		Actor:     change.Actor,
		At:        change.At,
	}
}

// RedisSink publishes every change as JSON on a Redis channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (r *RedisSink) NotifyStateChange(ctx context.Context, change domain.StateChange) error {
	payload, err := json.Marshal(NewEvent(change))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// NewRedisClient returns a client after checking the server answers PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
