package persistence

import (
	"context"
	"fmt"
	"time"

	"PerpAMM/internal/core"
	"PerpAMM/internal/event"
	"PerpAMM/internal/observability"

	"github.com/rs/zerolog"
)

// QuoteLogWorker drains the quote channel, links every quote into the hash
// chain and batch-writes to Postgres. Query handlers send to inputChan
// without blocking; once written, quotes are forwarded to publishChan.
type QuoteLogWorker struct {
	writer       *QuoteLogWriter
	lookup       *QuoteLookup
	chain        *core.QuoteChain
	inputChan    <-chan event.QuoteEnvelope
	publishChan  chan<- event.QuoteEnvelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewQuoteLogWorker(
	writer *QuoteLogWriter,
	lookup *QuoteLookup,
	inputChan <-chan event.QuoteEnvelope,
	publishChan chan<- event.QuoteEnvelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *QuoteLogWorker {
	return &QuoteLogWorker{
		writer:       writer,
		lookup:       lookup,
		chain:        core.NewQuoteChain(),
		inputChan:    inputChan,
		publishChan:  publishChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Resume continues the hash chain from the last persisted quote. Must be
// called before Run.
func (qw *QuoteLogWorker) Resume(ctx context.Context) error {
	hash, seq, found, err := qw.lookup.LastLink(ctx)
	if err != nil {
		return fmt.Errorf("resume quote chain: %w", err)
	}
	if found {
		qw.chain = core.ResumeQuoteChain(hash, seq)
		qw.logger.Info().Int64("sequence", seq).Str("chain_hash", core.HexDigest(hash)).Msg("resumed quote chain")
	}
	return nil
}

// Run batches incoming quotes and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled.
func (qw *QuoteLogWorker) Run(ctx context.Context) error {
	batch := make([]event.QuoteEnvelope, 0, qw.batchSize)

	timer := time.NewTimer(qw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := qw.flushWithRetry(ctx, batch); err != nil {
			qw.logger.Error().Err(err).Str("reason", reason).Int("quotes", len(batch)).Msg("quote log flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case q, ok := <-qw.inputChan:
			if !ok {
				flush(context.Background(), "closed")
				return nil
			}

			batch = append(batch, qw.link(q))
			if qw.metrics != nil {
				qw.metrics.SetChannelMetrics("quote_log", len(qw.inputChan), cap(qw.inputChan))
			}

			if len(batch) >= qw.batchSize {
				flush(ctx, "full")
				timer.Reset(qw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(qw.flushTimeout)
		}
	}
}

// link assigns the next sequence and chain hash.
func (qw *QuoteLogWorker) link(q event.QuoteEnvelope) event.QuoteEnvelope {
	q.PrevHash, _ = qw.chain.Tip()
	q.Sequence, q.ChainHash = qw.chain.Next(q.Digest)
	return q
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On shutdown one last attempt is made with a background context. A batch
// Postgres rejects outright is salvaged row by row instead of retried.
func (qw *QuoteLogWorker) flushWithRetry(ctx context.Context, quotes []event.QuoteEnvelope) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			qw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("quotes", len(quotes)).Msg("quote log retry")
			if qw.metrics != nil {
				qw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := qw.flush(context.Background(), quotes); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := qw.flush(ctx, quotes)
		if err == nil {
			if attempt > 0 {
				qw.logger.Info().Int("retries", attempt).Msg("quote log flush succeeded")
			}
			return nil
		}
		if qw.metrics != nil {
			qw.metrics.PersistErrors.WithLabelValues("write_quotes").Inc()
		}
		if PermanentWriteError(err) {
			return qw.salvage(ctx, quotes, err)
		}
	}
}

func (qw *QuoteLogWorker) flush(ctx context.Context, quotes []event.QuoteEnvelope) error {
	start := time.Now()
	if err := qw.writer.WriteBatch(ctx, quotes); err != nil {
		return err
	}

	if qw.metrics != nil {
		qw.metrics.QuoteLogBatchDur.Observe(time.Since(start).Seconds())
		qw.metrics.QuoteLogBatchSize.Observe(float64(len(quotes)))
		qw.metrics.QuoteLogWritten.Add(float64(len(quotes)))
	}
	qw.forward(quotes)
	return nil
}

// salvage writes a rejected batch one row at a time. A row that is still
// rejected is logged without its payload so the chain stays unbroken.
func (qw *QuoteLogWorker) salvage(ctx context.Context, quotes []event.QuoteEnvelope, cause error) error {
	qw.logger.Error().Err(cause).Int("quotes", len(quotes)).Msg("quote batch rejected, writing row by row")

	written := make([]event.QuoteEnvelope, 0, len(quotes))
	failed := 0
	for _, q := range quotes {
		err := qw.writer.WriteBatch(ctx, []event.QuoteEnvelope{q})
		if err != nil && PermanentWriteError(err) {
			qw.logger.Error().Err(err).Int64("sequence", q.Sequence).Str("request_id", q.RequestID.String()).
				Msg("quote payload rejected, logging digest only")
			q.Payload = nil
			err = qw.writer.WriteBatch(ctx, []event.QuoteEnvelope{q})
		}
		if err != nil {
			failed++
			if qw.metrics != nil {
				qw.metrics.PersistErrors.WithLabelValues("quote_rejected").Inc()
			}
			continue
		}
		written = append(written, q)
	}
	if qw.metrics != nil {
		qw.metrics.QuoteLogWritten.Add(float64(len(written)))
	}
	qw.forward(written)

	if failed > 0 {
		return fmt.Errorf("%d of %d quotes not logged: %w", failed, len(quotes), cause)
	}
	return nil
}

func (qw *QuoteLogWorker) forward(quotes []event.QuoteEnvelope) {
	if qw.publishChan == nil {
		return
	}
	for _, q := range quotes {
		select {
		case qw.publishChan <- q:
		default:
			if qw.metrics != nil {
				qw.metrics.PublishDrops.Inc()
			}
		}
	}
}
