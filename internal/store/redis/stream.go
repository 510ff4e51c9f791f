// Package redis adapts Redis Streams as the market event source and Redis
// keys as the engine snapshot store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"indicator-enginev1/internal/model"
)

// Config configures the Redis adapters.
type Config struct {
	Addr          string
	Password      string
	DB            int
	Stream        string // market event stream, e.g. "market:events"
	ConsumerGroup string // e.g. "indengine"
	ConsumerName  string // unique per process, e.g. hostname
	SnapshotKey   string // engine snapshot key
}

// Source consumes market events from a Redis Stream via a consumer group
// and persists engine snapshots. Messages are ACKed after the event is
// handed off; undecodable messages are ACKed too so a poison pill cannot
// wedge the group.
type Source struct {
	client      *goredis.Client
	stream      string
	group       string
	consumer    string
	snapshotKey string
}

// New connects and pings the server.
func New(cfg Config) (*Source, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.Stream == "" {
		cfg.Stream = "market:events"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "indengine"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "worker-1"
	}
	if cfg.SnapshotKey == "" {
		cfg.SnapshotKey = "indengine:snapshot"
	}

	log.Printf("[redis] connected to %s (stream=%s group=%s consumer=%s)",
		cfg.Addr, cfg.Stream, cfg.ConsumerGroup, cfg.ConsumerName)
	return &Source{
		client:      client,
		stream:      cfg.Stream,
		group:       cfg.ConsumerGroup,
		consumer:    cfg.ConsumerName,
		snapshotKey: cfg.SnapshotKey,
	}, nil
}

// ensureGroup creates the consumer group if it does not exist. Fresh
// groups start at "$": only new events.
func (s *Source) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("xgroup create %s: %w", s.stream, err)
	}
	return nil
}

// Run blocks on XREADGROUP and pushes decoded events to out until ctx is
// cancelled. Satisfies model.EventSource.
func (s *Source) Run(ctx context.Context, out chan<- model.MarketEvent) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	if err := s.recoverPending(ctx, out); err != nil {
		log.Printf("[redis] pending recovery: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				ev, ok := decodeEvent(msg.Values)
				if !ok {
					// ACK bad messages to avoid a poison pill.
					s.client.XAck(ctx, s.stream, s.group, msg.ID)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
				s.client.XAck(ctx, s.stream, s.group, msg.ID)
			}
		}
	}
}

// recoverPending claims and replays unACKed messages from a previous
// crash, giving at-least-once delivery.
func (s *Source) recoverPending(ctx context.Context, out chan<- model.MarketEvent) error {
	for {
		pending, err := s.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: s.stream,
			Group:  s.group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil || len(pending) == 0 {
			return err
		}

		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		claimed, err := s.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  0,
			Messages: ids,
		}).Result()
		if err != nil {
			return fmt.Errorf("xclaim: %w", err)
		}

		replayed := 0
		for _, msg := range claimed {
			if ev, ok := decodeEvent(msg.Values); ok {
				select {
				case out <- ev:
					replayed++
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			s.client.XAck(ctx, s.stream, s.group, msg.ID)
		}
		if replayed > 0 {
			log.Printf("[redis] replayed %d pending events", replayed)
		}
	}
}

func decodeEvent(values map[string]interface{}) (model.MarketEvent, bool) {
	data, ok := values["data"].(string)
	if !ok {
		return model.MarketEvent{}, false
	}
	var ev model.MarketEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		log.Printf("[redis] unmarshal event error: %v", err)
		return model.MarketEvent{}, false
	}
	if ev.Symbol == "" {
		return model.MarketEvent{}, false
	}
	return ev, true
}

// SaveSnapshotJSON persists a JSON engine snapshot. Satisfies
// model.SnapshotStore.
func (s *Source) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.snapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotJSON loads the latest snapshot, or nil, nil when absent.
func (s *Source) ReadSnapshotJSON(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.snapshotKey).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis read snapshot: %w", err)
	}
	return data, nil
}

// Ping checks connectivity for the health probe.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Source) Close() error {
	return s.client.Close()
}
