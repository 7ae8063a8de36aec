// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish sends pump status snapshots to redis
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/turboctl/internal/config"
	"github.com/Thermoquad/turboctl/pkg/control"
	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Snapshot is the CBOR record published for every status
type Snapshot struct {
	Source      string   `cbor:"1,keyasint"`
	Time        int64    `cbor:"2,keyasint"` // unix milliseconds
	Frequency   int      `cbor:"3,keyasint"`
	Temperature int      `cbor:"4,keyasint"`
	Current     float64  `cbor:"5,keyasint"`
	Voltage     float64  `cbor:"6,keyasint"`
	StatusBits  uint16   `cbor:"7,keyasint"`
	Status      []string `cbor:"8,keyasint"`
}

// NewSnapshot converts a status
func NewSnapshot(source string, s control.Status) Snapshot {
	return Snapshot{
		Source:      source,
		Time:        s.At.UnixMilli(),
		Frequency:   s.Frequency,
		Temperature: s.Temperature,
		Current:     s.Current,
		Voltage:     s.Voltage,
		StatusBits:  uint16(s.Bits),
		Status:      s.Bits.Names(),
	}
}

// Encode returns the CBOR encoding
func (s Snapshot) Encode() ([]byte, error) {
	return cbor.Marshal(s)
}

// Decode parses a CBOR snapshot
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}

// Publisher publishes snapshots on a channel and keeps a bounded history
// list
type Publisher struct {
	client  redis.UniversalClient
	channel string
	history int64
	log     logrus.FieldLogger
}

// Connect opens a redis client and checks it with PING
func Connect(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.WithField("addr", cfg.Addr).Info("connected to redis")

	return NewPublisher(client, cfg.Channel, cfg.History, log), nil
}

// NewPublisher wraps an existing client
func NewPublisher(client redis.UniversalClient, channel string, history int64, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		history: history,
		log:     log,
	}
}

// HistoryKey is the list holding recent snapshots
func (p *Publisher) HistoryKey() string {
	return p.channel + ":history"
}

// Publish sends one snapshot
func (p *Publisher) Publish(ctx context.Context, s Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	if p.history > 0 {
		pipe := p.client.Pipeline()
		pipe.LPush(ctx, p.HistoryKey(), data)
		pipe.LTrim(ctx, p.HistoryKey(), 0, p.history-1)
		if _, err := pipe.Exec(ctx); err != nil {
			p.log.WithError(err).Warn("failed to store snapshot history")
		}
	}
	return nil
}

// Close closes the redis client
func (p *Publisher) Close() error {
	return p.client.Close()
}
