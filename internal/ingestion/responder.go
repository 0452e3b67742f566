package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/event"
	"PerpAMM/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// PreviewHandler computes the response for one preview request.
type PreviewHandler func(ctx context.Context, req event.Request) (interface{}, error)

// PreviewSubjectPrefix is followed by one of the suffixes in PreviewSubjects.
const PreviewSubjectPrefix = "amm.preview."

// PreviewSubjects maps the last subject token to the request it carries.
var PreviewSubjects = map[string]event.RequestType{
	"trade":             event.RequestTypeTradePreview,
	"max_trade":         event.RequestTypeMaxTrade,
	"add_liquidity":     event.RequestTypeAddLiquidityPreview,
	"remove_liquidity":  event.RequestTypeRemoveLiquidityPreview,
	"funding_rate":      event.RequestTypeFundingRate,
	"account":           event.RequestTypeAccount,
	"order_cost":        event.RequestTypeOrderCost,
	"amount_with_price": event.RequestTypeAmountWithPrice,
	"trade_by_margin":   event.RequestTypeTradeByMargin,
	"limit_order_max":   event.RequestTypeLimitOrderMax,
}

// Reply is the JSON body of every request/reply answer.
type Reply struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ReplyError `json:"error,omitempty"`
}

type ReplyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewReply wraps a handler result. A nil err gives an OK reply.
func NewReply(result interface{}, err error) Reply {
	if err != nil {
		return Reply{Error: &ReplyError{Kind: errs.KindOf(err).String(), Message: err.Error()}}
	}
	return Reply{OK: true, Result: result}
}

// PreviewResponder answers preview requests over core NATS request/reply.
// Replicas share the work through a queue group; previews are read-only so
// no JetStream durability is needed.
type PreviewResponder struct {
	nc         *nats.Conn
	queueGroup string
	handler    PreviewHandler
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewPreviewResponder(
	nc *nats.Conn,
	queueGroup string,
	handler PreviewHandler,
	timeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PreviewResponder {
	return &PreviewResponder{
		nc:         nc,
		queueGroup: queueGroup,
		handler:    handler,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start subscribes to amm.preview.* in the queue group.
func (r *PreviewResponder) Start() error {
	sub, err := r.nc.QueueSubscribe(PreviewSubjectPrefix+"*", r.queueGroup, r.serve)
	if err != nil {
		return fmt.Errorf("subscribe %s*: %w", PreviewSubjectPrefix, err)
	}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	r.logger.Info().Str("subject", PreviewSubjectPrefix+"*").Str("queue", r.queueGroup).Msg("preview responder started")
	return nil
}

// Stop drains the subscriptions so in-flight requests still get a reply.
func (r *PreviewResponder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if err := sub.Drain(); err != nil {
			r.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("drain failed")
		}
	}
	r.subs = nil
	r.logger.Info().Msg("preview responder stopped")
}

func (r *PreviewResponder) serve(msg *nats.Msg) {
	start := time.Now()
	reply := r.Dispatch(msg.Subject, msg.Data)

	status := "ok"
	if !reply.OK {
		status = reply.Error.Kind
	}
	if r.metrics != nil {
		r.metrics.NATSRequests.WithLabelValues(msg.Subject, status).Inc()
		r.metrics.NATSRequestDuration.WithLabelValues(msg.Subject).Observe(time.Since(start).Seconds())
	}

	if msg.Reply == "" {
		r.logger.Debug().Str("subject", msg.Subject).Msg("preview request without reply subject")
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error().Err(err).Str("subject", msg.Subject).Msg("marshal reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("respond failed")
	}
}

// Dispatch parses and handles one request without touching NATS.
func (r *PreviewResponder) Dispatch(subject string, data []byte) Reply {
	rt, ok := PreviewSubjects[strings.TrimPrefix(subject, PreviewSubjectPrefix)]
	if !ok {
		return NewReply(nil, errs.InvalidArgument("unknown preview subject %s", subject))
	}
	req, err := ParseRequest(rt, data)
	if err != nil {
		return NewReply(nil, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	result, err := r.handler(ctx, req)
	return NewReply(result, err)
}
