package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PerpAMM/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	SnapshotStream = "AMM_SNAPSHOTS"
	QuoteStream    = "AMM_QUOTES"

	snapshotSubjectPrefix = "amm.snapshots."
)

// SnapshotSubject is where the keeper publishes snapshots of pool.
func SnapshotSubject(pool string) string { return snapshotSubjectPrefix + pool }

// PoolFromSubject is the inverse of SnapshotSubject.
func PoolFromSubject(subject string) (string, bool) {
	pool, ok := strings.CutPrefix(subject, snapshotSubjectPrefix)
	if !ok || pool == "" || strings.Contains(pool, ".") {
		return "", false
	}
	return pool, true
}

// RawSnapshot is an undecoded snapshot message. The snapshot loop parses
// it with ParseSnapshot and acks once the snapshot is stored.
type RawSnapshot struct {
	Subject string
	// Pool is taken from the subject; empty when the subject carries none.
	Pool      string
	Data      []byte
	Delivered uint64
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
	TermFunc  func() // Call for malformed snapshots that will never succeed
}

// SnapshotConsumerConfig selects the pools this replica serves. No pools
// means every pool.
type SnapshotConsumerConfig struct {
	Durable    string
	Pools      []string
	AckWait    time.Duration
	MaxDeliver int
}

func DefaultSnapshotConsumer(pools []string) SnapshotConsumerConfig {
	return SnapshotConsumerConfig{
		Durable:    "amm-snapshots",
		Pools:      pools,
		AckWait:    30 * time.Second,
		MaxDeliver: 5,
	}
}

func (c SnapshotConsumerConfig) consumerConfig() jetstream.ConsumerConfig {
	cc := jetstream.ConsumerConfig{
		Durable:       c.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.AckWait,
		MaxDeliver:    c.MaxDeliver,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	}
	if len(c.Pools) == 0 {
		cc.FilterSubject = SnapshotSubject(">")
		return cc
	}
	for _, pool := range c.Pools {
		cc.FilterSubjects = append(cc.FilterSubjects, SnapshotSubject(pool))
	}
	return cc
}

// SnapshotSubscriber consumes pool snapshots from JetStream and feeds them
// to the snapshot loop.
type SnapshotSubscriber struct {
	js           jetstream.JetStream
	snapshotChan chan<- RawSnapshot
	consumer     jetstream.ConsumeContext
	logger       zerolog.Logger
}

func NewSnapshotSubscriber(js jetstream.JetStream, snapshotChan chan<- RawSnapshot, logger zerolog.Logger) *SnapshotSubscriber {
	return &SnapshotSubscriber{
		js:           js,
		snapshotChan: snapshotChan,
		logger:       logger,
	}
}

// Subscribe starts one durable consumer over the configured pools. A new
// consumer starts from the latest snapshot of each pool.
func (s *SnapshotSubscriber) Subscribe(ctx context.Context, cfg SnapshotConsumerConfig) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, SnapshotStream, cfg.consumerConfig())
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawSnapshot{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
			TermFunc:  func() { msg.Term() },
		}
		raw.Pool, _ = PoolFromSubject(raw.Subject)
		if md, err := msg.Metadata(); err == nil {
			raw.Delivered = md.NumDelivered
		}

		select {
		case s.snapshotChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.Durable, err)
	}

	s.consumer = cc
	s.logger.Info().Str("consumer", cfg.Durable).Strs("pools", cfg.Pools).Msg("subscribed to snapshots")
	return nil
}

func (s *SnapshotSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.logger.Info().Msg("snapshot subscriber stopped")
}

// EnsureStreams creates the snapshot and quote streams if they don't exist.
// Snapshots keep only the latest message per pool subject.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:              SnapshotStream,
			Subjects:          []string{SnapshotSubject(">")},
			Storage:           jetstream.FileStorage,
			Retention:         jetstream.LimitsPolicy,
			MaxAge:            72 * time.Hour,
			MaxMsgsPerSubject: 1,
			Replicas:          1,
		},
		{
			Name:       QuoteStream,
			Subjects:   []string{"amm.quotes.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS connects and returns a JetStream context. The "nats"
// component of health follows the connection state.
func ConnectNATS(url string, health *observability.HealthChecker, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("ammd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			health.SetComponent("nats", false)
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			health.SetComponent("nats", true)
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	health.SetComponent("nats", true)
	return nc, js, nil
}
