package core

import (
	"time"

	"PerpAMM/internal/amm"
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/observability"
	"PerpAMM/internal/state"

	"github.com/rs/zerolog"
)

// PriceResult is the AMM side of a trade, before fees.
type PriceResult struct {
	DeltaAMMAmount math.Decimal `json:"deltaAMMAmount"`
	DeltaAMMMargin math.Decimal `json:"deltaAMMMargin"`
	TradingPrice   math.Decimal `json:"tradingPrice"`
}

// TradeResult is a trade against the AMM settled for both sides.
// NewPool already includes the LP fee.
type TradeResult struct {
	TradeIsSafe      bool                        `json:"tradeIsSafe"`
	Trader           state.AccountDetails        `json:"trader"`
	NewPool          *state.LiquidityPoolStorage `json:"newPool"`
	TotalFee         math.Decimal                `json:"totalFee"`
	TradingPrice     math.Decimal                `json:"tradingPrice"`
	AdjustCollateral math.Decimal                `json:"adjustCollateral"`
}

// AMMPrice prices a trade of amount (trader's perspective) against the AMM.
func AMMPrice(p *state.LiquidityPoolStorage, perpetualIndex int, amount math.Decimal) (*PriceResult, error) {
	if amount.IsZero() {
		return nil, errs.InvalidArgument("bad amount %s", amount)
	}
	c, err := amm.InternalTrade(p, perpetualIndex, amount.Neg())
	if err != nil {
		return nil, err
	}
	return &PriceResult{
		DeltaAMMAmount: c.DeltaPosition,
		DeltaAMMMargin: c.DeltaMargin,
		TradingPrice:   c.DeltaMargin.Div(c.DeltaPosition).Abs(),
	}, nil
}

// AMMTrade settles amount (trader's perspective) between the trader and the
// AMM. The input pool is never modified.
func AMMTrade(
	p *state.LiquidityPoolStorage,
	perpetualIndex int,
	trader state.AccountStorage,
	amount math.Decimal,
	flags state.TradeFlag,
) (*TradeResult, error) {
	if amount.IsZero() {
		return nil, errs.InvalidArgument("bad amount %s", amount)
	}
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return nil, err
	}
	oldOpenInterest := perpetual.OpenInterest

	// AMM
	price, err := AMMPrice(p, perpetualIndex, amount)
	if err != nil {
		return nil, err
	}
	if !price.DeltaAMMAmount.Neg().Equal(amount) {
		return nil, errs.Bug("trading amount mismatched %s != %s", price.DeltaAMMAmount.Neg(), amount)
	}

	// trader
	totalFeeRate := perpetual.TotalFeeRate(p.VaultFeeRate)
	traderResult, err := state.ComputeTradeWithPrice(
		p, perpetualIndex, trader, price.TradingPrice, price.DeltaAMMAmount.Neg(), totalFeeRate, flags)
	if err != nil {
		return nil, err
	}

	// fee
	lpFee := math.Zero
	if !totalFeeRate.IsZero() {
		lpFee = traderResult.TotalFee.Mul(perpetual.LpFeeRate).Div(totalFeeRate)
	}

	// new AMM
	newPoolCashBalance := p.PoolCashBalance.
		Sub(price.DeltaAMMAmount.Mul(price.TradingPrice)).
		Add(perpetual.UnitAccumulativeFunding.Mul(price.DeltaAMMAmount)).
		Add(lpFee)
	newOpenInterest, err := AMMOpenInterest(p, perpetualIndex, trader, amount)
	if err != nil {
		return nil, err
	}
	newPool := p.Clone()
	newPool.PoolCashBalance = newPoolCashBalance
	newPerpetual := newPool.Perpetuals[perpetualIndex]
	newPerpetual.AMMPositionAmount = newPerpetual.AMMPositionAmount.Add(price.DeltaAMMAmount)
	newPerpetual.OpenInterest = newOpenInterest

	if newOpenInterest.GreaterThan(oldOpenInterest) {
		limit, err := PerpetualOpenInterestLimit(newPool, perpetualIndex)
		if err != nil {
			return nil, err
		}
		if newOpenInterest.GreaterThan(limit) {
			return nil, &state.OpenInterestExceededError{NewOpenInterest: newOpenInterest, Limit: limit}
		}
	}

	return &TradeResult{
		TradeIsSafe:      traderResult.TradeIsSafe,
		Trader:           traderResult.AfterTrade,
		NewPool:          newPool,
		TotalFee:         traderResult.TotalFee,
		TradingPrice:     price.TradingPrice,
		AdjustCollateral: traderResult.AdjustCollateral,
	}, nil
}

// AMMOpenInterest is the perpetual's open interest after the trader trades
// amount against the AMM.
func AMMOpenInterest(p *state.LiquidityPoolStorage, perpetualIndex int, trader state.AccountStorage, amount math.Decimal) (math.Decimal, error) {
	if amount.IsZero() {
		return math.Zero, errs.InvalidArgument("bad amount %s", amount)
	}
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	openInterest := state.ComputeOpenInterest(perpetual.OpenInterest, trader.PositionAmount, amount)
	return state.ComputeOpenInterest(openInterest, perpetual.AMMPositionAmount, amount.Neg()), nil
}

// PerpetualOpenInterestLimit is poolMargin * maxOpenInterestRate / index,
// with the pool margin solved under β1 even when the AMM is unsafe.
func PerpetualOpenInterestLimit(p *state.LiquidityPoolStorage, perpetualIndex int) (math.Decimal, error) {
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	if !perpetual.IndexPrice.IsPositive() {
		return math.Zero, errs.InvalidArgument("bad index price %s", perpetual.IndexPrice)
	}
	c, err := amm.NewTradingContext(p, &perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	c, err = amm.SolvePoolMargin(c, c.OpenSlippageFactor, true)
	if err != nil {
		return math.Zero, err
	}
	return c.PoolMargin.Mul(perpetual.MaxOpenInterestRate).Div(perpetual.IndexPrice), nil
}

// Engine runs core computations with logging and metrics. The computations
// themselves are pure; Engine holds no pool state and is safe for
// concurrent use.
type Engine struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewEngine creates an engine. metrics may be nil.
func NewEngine(logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		logger:  logger,
		metrics: metrics,
	}
}

// observe records one computation. Bug-kind failures are logged at warn;
// everything else at debug.
func (e *Engine) observe(operation string, start time.Time, err error) {
	if e.metrics != nil {
		e.metrics.ComputeTotal.WithLabelValues(operation).Inc()
		e.metrics.ComputeDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			e.metrics.ComputeErrors.WithLabelValues(operation, errs.KindOf(err).String()).Inc()
		}
	}
	switch {
	case err == nil:
		e.logger.Debug().Str("operation", operation).Dur("took", time.Since(start)).Msg("computed")
	case errs.Is(err, errs.KindBug):
		e.logger.Warn().Err(err).Str("operation", operation).Msg("internal consistency check failed")
	default:
		e.logger.Debug().Err(err).Str("operation", operation).Msg("computation rejected")
	}
}

func (e *Engine) AMMPrice(p *state.LiquidityPoolStorage, perpetualIndex int, amount math.Decimal) (*PriceResult, error) {
	start := time.Now()
	ret, err := AMMPrice(p, perpetualIndex, amount)
	e.observe("amm_price", start, err)
	return ret, err
}

func (e *Engine) AMMTrade(
	p *state.LiquidityPoolStorage,
	perpetualIndex int,
	trader state.AccountStorage,
	amount math.Decimal,
	flags state.TradeFlag,
) (*TradeResult, error) {
	start := time.Now()
	ret, err := AMMTrade(p, perpetualIndex, trader, amount, flags)
	e.observe("amm_trade", start, err)
	return ret, err
}

func (e *Engine) Account(p *state.LiquidityPoolStorage, perpetualIndex int, a state.AccountStorage) (state.AccountDetails, error) {
	start := time.Now()
	ret, err := state.ComputeAccount(p, perpetualIndex, a)
	e.observe("account", start, err)
	return ret, err
}

func (e *Engine) FundingRate(p *state.LiquidityPoolStorage, perpetualIndex int) (math.Decimal, error) {
	start := time.Now()
	ret, err := amm.FundingRate(p, perpetualIndex)
	e.observe("funding_rate", start, err)
	return ret, err
}

func (e *Engine) BestAskBidPrice(p *state.LiquidityPoolStorage, perpetualIndex int, isAMMBuy bool) (math.Decimal, error) {
	start := time.Now()
	ret, err := amm.BestAskBidPrice(p, perpetualIndex, isAMMBuy)
	e.observe("best_ask_bid_price", start, err)
	return ret, err
}

func (e *Engine) AmountWithPrice(p *state.LiquidityPoolStorage, perpetualIndex int, isTraderBuy bool, limitPrice math.Decimal) (math.Decimal, error) {
	start := time.Now()
	ret, err := amm.AmountWithPrice(p, perpetualIndex, isTraderBuy, limitPrice)
	e.observe("amount_with_price", start, err)
	return ret, err
}

// ShareToMint also warns when shares are minted against a zero pool margin
// while shares are outstanding: the existing holders' claim is diluted to
// nothing.
func (e *Engine) ShareToMint(p *state.LiquidityPoolStorage, totalShare, cashToAdd math.Decimal) (*amm.ShareToMintResult, error) {
	start := time.Now()
	ret, err := amm.ShareToMint(p, totalShare, cashToAdd)
	e.observe("share_to_mint", start, err)
	if err == nil && ret.PoolMargin.IsZero() && !totalShare.IsZero() {
		e.logger.Warn().
			Str("total_share", totalShare.String()).
			Str("cash_to_add", cashToAdd.String()).
			Msg("adding liquidity to a pool with zero margin and outstanding shares")
	}
	return ret, err
}

func (e *Engine) CashToReturn(p *state.LiquidityPoolStorage, totalShare, shareToRemove math.Decimal) (*amm.CashToReturnResult, error) {
	start := time.Now()
	ret, err := amm.CashToReturn(p, totalShare, shareToRemove)
	e.observe("cash_to_return", start, err)
	return ret, err
}

func (e *Engine) MaxRemovableShare(p *state.LiquidityPoolStorage, totalShare math.Decimal) (math.Decimal, error) {
	start := time.Now()
	ret, err := amm.MaxRemovableShare(p, totalShare)
	e.observe("max_removable_share", start, err)
	return ret, err
}

func (e *Engine) AMMMaxTradeAmount(
	p *state.LiquidityPoolStorage,
	perpetualIndex int,
	trader state.AccountStorage,
	walletBalance math.Decimal,
	isTraderBuy bool,
	targetLeverage math.Decimal,
) (math.Decimal, error) {
	start := time.Now()
	ret, err := AMMMaxTradeAmount(p, perpetualIndex, trader, walletBalance, isTraderBuy, targetLeverage)
	e.observe("amm_max_trade_amount", start, err)
	return ret, err
}

func (e *Engine) AMMTradeAmountByMargin(p *state.LiquidityPoolStorage, perpetualIndex int, deltaMargin math.Decimal) (math.Decimal, error) {
	start := time.Now()
	ret, err := AMMTradeAmountByMargin(p, perpetualIndex, deltaMargin)
	e.observe("amm_trade_amount_by_margin", start, err)
	return ret, err
}
