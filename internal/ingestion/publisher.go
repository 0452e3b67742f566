package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"PerpAMM/internal/event"
	"PerpAMM/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// QuotePublisher publishes logged quotes to NATS for downstream consumers.
// Quotes are published after the quote log persisted them.
// Subjects follow the pattern: amm.quotes.{request_type}.{pool}
type QuotePublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.QuoteEnvelope
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableQuote is the wire form of a logged quote.
type PublishableQuote struct {
	Sequence    int64           `json:"sequence"`
	RequestID   string          `json:"request_id"`
	RequestType string          `json:"request_type"`
	Pool        string          `json:"pool"`
	Block       uint64          `json:"block"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ChainHash   string          `json:"chain_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewQuotePublisher(
	js jetstream.JetStream,
	inputChan <-chan event.QuoteEnvelope,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *QuotePublisher {
	return &QuotePublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the publisher loop.
func (qp *QuotePublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case q, ok := <-qp.inputChan:
			if !ok {
				return nil
			}

			if err := qp.publish(ctx, q); err != nil {
				// Non-fatal: consumers can read the quote log directly
				qp.logger.Warn().Err(err).Int64("sequence", q.Sequence).Msg("quote publish failed")
				continue
			}
			if qp.metrics != nil {
				qp.metrics.PublishedQuotes.WithLabelValues(q.RequestType.String()).Inc()
			}
		}
	}
}

// QuoteSubject is amm.quotes.{request_type}.{pool}.
func QuoteSubject(q event.QuoteEnvelope) string {
	return fmt.Sprintf("amm.quotes.%s.%s", q.RequestType, q.PoolID)
}

func (qp *QuotePublisher) publish(ctx context.Context, q event.QuoteEnvelope) error {
	data, err := json.Marshal(PublishableQuote{
		Sequence:    q.Sequence,
		RequestID:   q.RequestID.String(),
		RequestType: q.RequestType.String(),
		Pool:        q.PoolID,
		Block:       q.Block,
		ErrorKind:   q.ErrorKind,
		Payload:     q.Payload,
		ChainHash:   hex.EncodeToString(q.ChainHash[:]),
		Timestamp:   q.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	_, err = qp.js.Publish(ctx, QuoteSubject(q), data, jetstream.WithMsgID(q.RequestID.String()))
	return err
}
