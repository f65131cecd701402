// Command publish sends one envelope through the distributed bus. It is
// an operational tool for smoke-testing a deployment and for driving the
// hub from shell scripts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/bus"
	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/protocol"
)

func main() {
	var (
		redisURL  = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL")
		eventType = flag.String("type", string(protocol.EventChatUpdated), "event type")
		room      = flag.String("room", "", "target room (chat:<id> or user:<id>)")
		seq       = flag.Int64("seq", 0, "sequence number for ordered event types")
		data      = flag.String("data", "{}", "JSON payload")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if *redisURL == "" {
		logger.Fatal().Msg("redis URL required (flag -redis or REDIS_URL)")
	}
	if *room == "" {
		logger.Fatal().Msg("-room required")
	}

	var payload json.RawMessage
	if err := json.Unmarshal([]byte(*data), &payload); err != nil {
		logger.Fatal().Err(err).Msg("invalid -data JSON")
	}

	opts, err := redis.ParseURL(*redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid redis URL")
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}

	envOpts := []protocol.Option{protocol.WithRoom(*room)}
	if *seq > 0 {
		envOpts = append(envOpts, protocol.WithSeq(*seq))
	}
	env, err := protocol.New(protocol.EventType(*eventType), payload, envOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("envelope construction failed")
	}
	if err := protocol.ValidateEnvelope(env); err != nil {
		logger.Fatal().Err(err).Msg("envelope rejected")
	}

	b := bus.NewRedis(client, metrics.NewCollector(), logger)
	defer b.Close()

	if err := b.Publish(ctx, *room, env); err != nil {
		logger.Fatal().Err(err).Msg("publish failed")
	}

	fmt.Printf("published %s to %s (id=%s)\n", env.Type, *room, env.ID)
}
