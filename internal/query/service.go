package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PerpAMM/internal/core"
	"PerpAMM/internal/errs"
	"PerpAMM/internal/event"
	"PerpAMM/internal/observability"
	"PerpAMM/internal/order"
	"PerpAMM/internal/projection"
	"PerpAMM/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotStore persists accepted snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, pool string, block uint64, snap *state.LiquidityPoolStorage) ([32]byte, error)
}

// QuoteLog finds a previously answered request.
type QuoteLog interface {
	ByRequestID(ctx context.Context, requestID uuid.UUID) (*event.QuoteEnvelope, error)
}

// Options wires the optional collaborators. Nil fields are skipped.
type Options struct {
	Store     SnapshotStore
	Quotes    QuoteLog
	QuoteChan chan<- event.QuoteEnvelope
	Funding   *projection.FundingHistory
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// QueryService answers preview requests from the latest snapshot of each
// pool. Every answer is computed by the pure core; the service adds
// snapshot bookkeeping, caching and the quote log.
type QueryService struct {
	engine    *core.Engine
	cache     *core.QuoteCache
	sequencer *core.SnapshotSequencer
	book      *SnapshotBook

	store     SnapshotStore
	quotes    QuoteLog
	quoteChan chan<- event.QuoteEnvelope
	funding   *projection.FundingHistory
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewQueryService(
	engine *core.Engine,
	cache *core.QuoteCache,
	sequencer *core.SnapshotSequencer,
	opts Options,
) *QueryService {
	return &QueryService{
		engine:    engine,
		cache:     cache,
		sequencer: sequencer,
		book:      NewSnapshotBook(),
		store:     opts.Store,
		quotes:    opts.Quotes,
		quoteChan: opts.QuoteChan,
		funding:   opts.Funding,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Book exposes the loaded snapshots, e.g. to the funding projector.
func (qs *QueryService) Book() *SnapshotBook {
	return qs.book
}

// --- Snapshots ---

// ApplySnapshot accepts a newer snapshot of a pool: it is persisted first
// and only then served. Repeats of the current block are ignored; older
// blocks are rejected.
func (qs *QueryService) ApplySnapshot(ctx context.Context, u *event.SnapshotUpdate) error {
	prev, hadPrev := qs.sequencer.LastBlock(u.Pool)
	accepted, err := qs.sequencer.Accept(u.Pool, u.Block)
	if err != nil || !accepted {
		return err
	}

	log := observability.WithSnapshot(qs.logger, u.Pool, u.Block)
	if qs.store != nil {
		if _, err := qs.store.SaveSnapshot(ctx, u.Pool, u.Block, u.Snapshot); err != nil {
			log.Warn().Err(err).Msg("snapshot not persisted, not served")
			if hadPrev {
				qs.sequencer.SetLastBlock(u.Pool, prev)
			} else {
				qs.sequencer.Forget(u.Pool)
			}
			return err
		}
	}

	qs.book.Put(u)
	log.Debug().Msg("snapshot applied")
	return nil
}

// Warm loads a persisted snapshot at startup without storing it again.
func (qs *QueryService) Warm(u *event.SnapshotUpdate) {
	qs.sequencer.SetLastBlock(u.Pool, u.Block)
	qs.book.Put(u)
}

// Pools summarizes every loaded pool.
func (qs *QueryService) Pools() []PoolSummary {
	snaps := qs.book.LatestSnapshots()
	summaries := make([]PoolSummary, 0, len(snaps))
	for _, u := range snaps {
		summaries = append(summaries, PoolSummary{
			Pool:       u.Pool,
			Block:      u.Block,
			Perpetuals: len(u.Snapshot.Perpetuals),
			IsRunning:  u.Snapshot.IsRunning,
			Gaps:       qs.sequencer.Gaps(u.Pool),
		})
	}
	return summaries
}

// FundingHistory returns the latest funding projections of one market,
// newest first.
func (qs *QueryService) FundingHistory(pool string, perpetualIndex, limit int) ([]projection.FundingProjection, error) {
	if _, ok := qs.book.Get(pool); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, pool)
	}
	if qs.funding == nil {
		return nil, nil
	}
	return qs.funding.QueryByMarket(pool, perpetualIndex, limit), nil
}

// --- Previews ---

// Handle answers one preview request. A request ID that was answered
// before gets the logged answer back.
func (qs *QueryService) Handle(ctx context.Context, req event.Request) (interface{}, error) {
	start := time.Now()
	result, err := qs.handle(ctx, req)
	qs.observe(req.RequestType().String(), start, err)
	return result, err
}

func (qs *QueryService) handle(ctx context.Context, req event.Request) (interface{}, error) {
	if qs.quotes != nil {
		logged, err := qs.quotes.ByRequestID(ctx, req.RequestID())
		if err != nil {
			qs.logger.Warn().Err(err).Str("request_id", req.RequestID().String()).Msg("quote log lookup failed")
		} else if logged != nil {
			return replay(logged)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blocks, err := qs.blocks(req)
	if err != nil {
		return nil, err
	}
	key, err := core.SnapshotDigest(req.RequestType().String(), cacheKey{Blocks: blocks, Params: withoutID(req)})
	if err != nil {
		return nil, errs.InvalidArgument("%v", err)
	}

	var result interface{}
	cached := false
	if qs.cache != nil {
		result, cached = qs.cache.Get(key)
	}
	if !cached {
		result, err = qs.compute(req)
		if err == nil && qs.cache != nil {
			qs.cache.Put(key, result)
		}
	}

	qs.logQuote(req, blocks[req.PoolID()], key, result, err)
	return result, err
}

// cacheKey identifies a computation: the snapshots it reads and the
// request without its ID. A (pool, block) pair names exactly one snapshot.
type cacheKey struct {
	Blocks map[string]uint64 `json:"blocks"`
	Params interface{}       `json:"params"`
}

func withoutID(req event.Request) interface{} {
	switch r := req.(type) {
	case *event.TradePreview:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.MaxTradeQuery:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.AddLiquidityPreview:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.RemoveLiquidityPreview:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.FundingRateQuery:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.AccountQuery:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.OrderCostQuery:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.AmountWithPriceQuery:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.TradeByMarginQuery:
		c := *r
		c.ID = uuid.Nil
		return c
	case *event.LimitOrderMaxQuery:
		c := *r
		c.ID = uuid.Nil
		return c
	default:
		return req
	}
}

// blocks returns the snapshot block of every pool req reads.
func (qs *QueryService) blocks(req event.Request) (map[string]uint64, error) {
	pools := []string{req.PoolID()}
	for _, ref := range marketsOf(req) {
		pools = append(pools, ref.Pool)
	}
	blocks := make(map[string]uint64, len(pools))
	for _, pool := range pools {
		u, ok := qs.book.Get(pool)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPool, pool)
		}
		blocks[pool] = u.Block
	}
	return blocks, nil
}

func (qs *QueryService) compute(req event.Request) (interface{}, error) {
	u, ok := qs.book.Get(req.PoolID())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, req.PoolID())
	}
	p := u.Snapshot

	switch r := req.(type) {
	case *event.TradePreview:
		trade, err := qs.engine.AMMTrade(p, r.PerpetualIndex, r.Trader, r.Amount, r.Flags)
		if err != nil {
			return nil, err
		}
		return &TradePreviewResponse{Pool: r.Pool, PerpetualIndex: r.PerpetualIndex, Trade: trade, AsOfBlock: u.Block}, nil

	case *event.MaxTradeQuery:
		amount, err := qs.engine.AMMMaxTradeAmount(p, r.PerpetualIndex, r.Trader, r.WalletBalance, r.IsTraderBuy, r.TargetLeverage)
		if err != nil {
			return nil, err
		}
		return &AmountResponse{Pool: r.Pool, PerpetualIndex: r.PerpetualIndex, Amount: amount, AsOfBlock: u.Block}, nil

	case *event.AddLiquidityPreview:
		res, err := qs.engine.ShareToMint(p, r.TotalShare, r.CashToAdd)
		if err != nil {
			return nil, err
		}
		return &AddLiquidityResponse{Pool: r.Pool, Result: res, AsOfBlock: u.Block}, nil

	case *event.RemoveLiquidityPreview:
		maxShare, err := qs.engine.MaxRemovableShare(p, r.TotalShare)
		if err != nil {
			return nil, err
		}
		resp := &RemoveLiquidityResponse{Pool: r.Pool, MaxRemovableShare: maxShare, AsOfBlock: u.Block}
		if !r.ShareToRemove.IsZero() {
			if resp.Result, err = qs.engine.CashToReturn(p, r.TotalShare, r.ShareToRemove); err != nil {
				return nil, err
			}
		}
		return resp, nil

	case *event.FundingRateQuery:
		rate, err := qs.engine.FundingRate(p, r.PerpetualIndex)
		if err != nil {
			return nil, err
		}
		resp := &FundingRateResponse{Pool: r.Pool, PerpetualIndex: r.PerpetualIndex, FundingRate: rate, AsOfBlock: u.Block}
		// no quote on a side the AMM refuses
		if ask, err := qs.engine.BestAskBidPrice(p, r.PerpetualIndex, false); err == nil {
			resp.BestAsk = &ask
		}
		if bid, err := qs.engine.BestAskBidPrice(p, r.PerpetualIndex, true); err == nil {
			resp.BestBid = &bid
		}
		return resp, nil

	case *event.AccountQuery:
		details, err := qs.engine.Account(p, r.PerpetualIndex, r.Account)
		if err != nil {
			return nil, err
		}
		resp := newAccountResponse(r.Pool, r.PerpetualIndex, u.Block, details)
		if rate, err := qs.engine.FundingRate(p, r.PerpetualIndex); err == nil {
			resp.PendingFunding = pendingFunding(u, r.PerpetualIndex, r.Account.PositionAmount, rate)
		}
		return resp, nil

	case *event.AmountWithPriceQuery:
		amount, err := qs.engine.AmountWithPrice(p, r.PerpetualIndex, r.IsTraderBuy, r.LimitPrice)
		if err != nil {
			return nil, err
		}
		return &AmountResponse{Pool: r.Pool, PerpetualIndex: r.PerpetualIndex, Amount: amount, AsOfBlock: u.Block}, nil

	case *event.TradeByMarginQuery:
		amount, err := qs.engine.AMMTradeAmountByMargin(p, r.PerpetualIndex, r.DeltaMargin)
		if err != nil {
			return nil, err
		}
		return &AmountResponse{Pool: r.Pool, PerpetualIndex: r.PerpetualIndex, Amount: amount, AsOfBlock: u.Block}, nil

	case *event.LimitOrderMaxQuery:
		market, ok := r.Markets[r.Symbol]
		if !ok {
			return nil, errs.InvalidArgument("symbol %d is not among the markets", r.Symbol)
		}
		contexts, err := qs.orderContexts(r.Markets)
		if err != nil {
			return nil, err
		}
		amount, err := qs.engine.LimitOrderMaxTradeAmount(contexts, r.WalletBalance, r.Orders, r.Symbol, r.LimitPrice, r.IsTraderBuy, r.TargetLeverage)
		if err != nil {
			return nil, err
		}
		return &AmountResponse{Pool: r.Pool, PerpetualIndex: market.PerpetualIndex, Amount: amount, AsOfBlock: u.Block}, nil

	case *event.OrderCostQuery:
		contexts, err := qs.orderContexts(r.Markets)
		if err != nil {
			return nil, err
		}
		cost, err := qs.engine.OrderCost(contexts, r.WalletBalance, r.Orders, r.NewOrder)
		if err != nil {
			return nil, err
		}
		return &OrderCostResponse{Pool: r.Pool, Cost: cost, AsOfBlock: u.Block}, nil

	default:
		return nil, errs.InvalidArgument("unsupported request %s", req.RequestType())
	}
}

func marketsOf(req event.Request) map[int64]event.MarketRef {
	switch r := req.(type) {
	case *event.OrderCostQuery:
		return r.Markets
	case *event.LimitOrderMaxQuery:
		return r.Markets
	}
	return nil
}

// orderContexts resolves every market against the current book.
func (qs *QueryService) orderContexts(markets map[int64]event.MarketRef) (map[int64]order.Context, error) {
	contexts := make(map[int64]order.Context, len(markets))
	for symbol, ref := range markets {
		u, ok := qs.book.Get(ref.Pool)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPool, ref.Pool)
		}
		contexts[symbol] = order.Context{Pool: u.Snapshot, PerpetualIndex: ref.PerpetualIndex, Account: ref.Account}
	}
	return contexts, nil
}

// --- Quote log ---

type loggedError struct {
	Message string `json:"message"`
}

// logQuote hands the answer to the quote log worker without blocking; a
// full channel drops the record.
func (qs *QueryService) logQuote(req event.Request, block uint64, digest [32]byte, result interface{}, err error) {
	if qs.quoteChan == nil {
		return
	}

	q := event.QuoteEnvelope{
		RequestID:   req.RequestID(),
		RequestType: req.RequestType(),
		PoolID:      req.PoolID(),
		Block:       block,
		Digest:      digest,
		Timestamp:   time.Now(),
	}
	var payload []byte
	var merr error
	if err != nil {
		q.ErrorKind = errs.KindOf(err).String()
		payload, merr = json.Marshal(loggedError{Message: err.Error()})
	} else {
		payload, merr = json.Marshal(result)
	}
	if merr != nil {
		qs.logger.Error().Err(merr).Str("request_id", q.RequestID.String()).Msg("marshal quote")
		return
	}
	q.Payload = payload

	select {
	case qs.quoteChan <- q:
	default:
		if qs.metrics != nil {
			qs.metrics.PersistErrors.WithLabelValues("quote_log_full").Inc()
		}
		qs.logger.Debug().Str("request_id", q.RequestID.String()).Msg("quote log channel full, record dropped")
	}
}

// replay turns a logged quote back into a result or an error.
func replay(q *event.QuoteEnvelope) (interface{}, error) {
	if q.ErrorKind == "" {
		return json.RawMessage(q.Payload), nil
	}
	var le loggedError
	if err := json.Unmarshal(q.Payload, &le); err != nil {
		return nil, errs.Bug("corrupt logged quote %s: %v", q.RequestID, err)
	}
	return nil, &replayedError{kind: errs.ParseKind(q.ErrorKind), msg: le.Message}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		qs.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(HTTPStatus(err))).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
