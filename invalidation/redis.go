// Package invalidation fans rule cache invalidations out to every replica
// over Redis pub/sub.
package invalidation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/txrules/internal/logger"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "rules:invalidate"

// allScopes is the payload that drops every cached rule set.
const allScopes = "*"

// Invalidator is implemented by *rules.Engine.
type Invalidator interface {
	InvalidateCache(scope int64)
	InvalidateAll()
}

// RedisBus publishes and receives invalidation messages on one channel.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus creates a bus on channel. An empty channel uses DefaultChannel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{client: client, channel: channel}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Publish announces that the rules of scope changed.
func (b *RedisBus) Publish(ctx context.Context, scope int64) error {
	if err := b.client.Publish(ctx, b.channel, strconv.FormatInt(scope, 10)).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for scope %d: %w", scope, err)
	}
	return nil
}

// PublishAll announces that every scope must reload.
func (b *RedisBus) PublishAll(ctx context.Context) error {
	if err := b.client.Publish(ctx, b.channel, allScopes).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription and then applies incoming messages to
// target in the background until ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, target Invalidator) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				apply(target, msg.Payload)
			}
		}
	}()
	return nil
}

func apply(target Invalidator, payload string) {
	scope, all, err := parseMessage(payload)
	switch {
	case err != nil:
		logger.Warn("ignoring invalidation message", "payload", payload, "error", err)
	case all:
		logger.Debug("invalidating all rule sets")
		target.InvalidateAll()
	default:
		logger.Debug("invalidating rule set", "scope", scope)
		target.InvalidateCache(scope)
	}
}

func parseMessage(payload string) (scope int64, all bool, err error) {
	payload = strings.TrimSpace(payload)
	if payload == allScopes {
		return 0, true, nil
	}
	scope, err = strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid scope %q", payload)
	}
	return scope, false, nil
}
