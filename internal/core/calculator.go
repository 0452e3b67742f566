package core

import (
	"time"

	"PerpAMM/internal/amm"
	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/order"
	"PerpAMM/internal/state"
)

// Amount calculators. Each searches for the largest trade (trader's
// perspective) a predicate accepts; the sign of the result is the side.

// AMMMaxTradeAmount is the largest market order the trader can send with the
// given target leverage, where any automatic deposit must fit in
// walletBalance. targetLeverage = 0 disables the automatic deposit/withdraw.
func AMMMaxTradeAmount(
	p *state.LiquidityPoolStorage,
	perpetualIndex int,
	trader state.AccountStorage,
	walletBalance math.Decimal,
	isTraderBuy bool,
	targetLeverage math.Decimal,
) (math.Decimal, error) {
	c, err := amm.NewTradingContext(p, &perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	if closable, err := closableWhenUnsafe(c, isTraderBuy); err != nil || !closable {
		return math.Zero, err
	}
	if !c.Index.IsPositive() {
		return math.Zero, errs.InvalidArgument("bad index price %s", c.Index)
	}

	// guess = (marginBalance + walletBalance) * lev / index - position
	details, err := state.ComputeAccount(p, perpetualIndex, trader)
	if err != nil {
		return math.Zero, err
	}
	var guess math.Decimal
	if targetLeverage.IsPositive() {
		guess = details.Computed.MarginBalance.Add(walletBalance).Mul(targetLeverage).Div(c.Index)
	} else {
		guess = details.Computed.MarginBalance.Div(c.Index)
	}
	if !isTraderBuy {
		guess = guess.Neg()
	}
	guess = guess.Sub(trader.PositionAmount).Abs()

	flags, err := state.EncodeTargetLeverage(targetLeverage)
	if err != nil {
		return math.Zero, err
	}
	checkTrading := func(a math.Decimal) bool {
		if a.IsZero() {
			return true
		}
		if !isTraderBuy {
			a = a.Neg()
		}
		// any error typically means a is too large
		result, err := AMMTrade(p, perpetualIndex, trader, a, flags)
		if err != nil {
			return false
		}
		return result.TradeIsSafe && result.AdjustCollateral.LessThanOrEqual(walletBalance)
	}
	return signedSearch(checkTrading, guess, isTraderBuy)
}

// AMMTradeAmountByMargin is the largest market order whose AMM margin change
// does not exceed |deltaMargin|. deltaMargin is the trader's margin change:
// < 0 buys, > 0 sells.
func AMMTradeAmountByMargin(p *state.LiquidityPoolStorage, perpetualIndex int, deltaMargin math.Decimal) (math.Decimal, error) {
	c, err := amm.NewTradingContext(p, &perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	if deltaMargin.IsZero() {
		return math.Zero, nil
	}
	isTraderBuy := deltaMargin.IsNegative()
	if closable, err := closableWhenUnsafe(c, isTraderBuy); err != nil || !closable {
		return math.Zero, err
	}
	if !c.Index.IsPositive() {
		return math.Zero, errs.InvalidArgument("bad index price %s", c.Index)
	}

	guess := deltaMargin.Div(c.Index).Abs()
	limit := deltaMargin.Abs()
	checkTrading := func(a math.Decimal) bool {
		if a.IsZero() {
			return true
		}
		if !isTraderBuy {
			a = a.Neg()
		}
		price, err := AMMPrice(p, perpetualIndex, a)
		if err != nil {
			return false
		}
		return price.DeltaAMMMargin.Abs().LessThanOrEqual(limit)
	}
	return signedSearch(checkTrading, guess, isTraderBuy)
}

// LimitOrderMaxTradeAmount is the largest limit order at limitPrice that the
// wallet can still fund once every resting order (all markets) fills, and
// that keeps open interest under its cap.
func LimitOrderMaxTradeAmount(
	contexts map[int64]order.Context,
	walletBalance math.Decimal,
	orders []order.Order,
	symbol int64,
	limitPrice math.Decimal,
	isTraderBuy bool,
	targetLeverage math.Decimal,
) (math.Decimal, error) {
	// available margin other than the current market
	available := walletBalance
	var currentOrders []order.Order
	for _, group := range order.SplitOrderPerpetual(orders) {
		if group.Symbol == symbol {
			currentOrders = group.Orders
			continue
		}
		other, ok := contexts[group.Symbol]
		if !ok {
			return math.Zero, errs.InvalidArgument("unknown symbol %d", group.Symbol)
		}
		var err error
		available, err = order.OrderPerpetualAvailable(other.Pool, other.PerpetualIndex, other.Account, available, group.Orders)
		if err != nil {
			return math.Zero, err
		}
	}

	// current market
	current, ok := contexts[symbol]
	if !ok {
		return math.Zero, errs.InvalidArgument("unknown symbol %d", symbol)
	}
	pool, perpetualIndex, trader := current.Pool, current.PerpetualIndex, current.Account
	perpetual, err := pool.Perpetual(perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	oldOpenInterest := perpetual.OpenInterest
	openInterestLimit, err := PerpetualOpenInterestLimit(pool, perpetualIndex)
	if err != nil {
		return math.Zero, err
	}
	if targetLeverage.IsZero() {
		return math.Zero, errs.InvalidArgument("target leverage = 0")
	}
	if !perpetual.MarkPrice.IsPositive() {
		return math.Zero, errs.InvalidArgument("bad mark price %s", perpetual.MarkPrice)
	}
	details, err := state.ComputeAccount(pool, perpetualIndex, trader)
	if err != nil {
		return math.Zero, err
	}

	// guess = available * lev / mark - position
	guess := available.Mul(targetLeverage).Div(perpetual.MarkPrice)
	if !isTraderBuy {
		guess = guess.Neg()
	}
	guess = guess.Sub(trader.PositionAmount).Abs()

	// state after the orders that fill before this one
	preOrders, postOrders := order.SplitOrdersByLimitPrice(currentOrders, limitPrice, isTraderBuy)
	preState, err := order.OrderSideAvailable(
		pool, perpetualIndex, details.Computed.MarginBalance, trader.PositionAmount, available, preOrders)
	if err != nil {
		return math.Zero, err
	}

	checkTrading := func(a math.Decimal) bool {
		if a.IsZero() {
			return true
		}
		if !isTraderBuy {
			a = a.Neg()
		}
		newOrder := order.Order{Symbol: symbol, LimitPrice: limitPrice, Amount: a, TargetLeverage: targetLeverage}
		newOrderState, err := order.OrderSideAvailable(
			pool, perpetualIndex, preState.RemainMargin, preState.RemainPosition, preState.RemainWalletBalance,
			[]order.Order{newOrder})
		if err != nil {
			return false
		}
		postState, err := order.OrderSideAvailable(
			pool, perpetualIndex, newOrderState.RemainMargin, newOrderState.RemainPosition, newOrderState.RemainWalletBalance,
			postOrders)
		if err != nil || postState.RemainWalletBalance.IsNegative() {
			return false
		}
		newOpenInterest, err := AMMOpenInterest(pool, perpetualIndex, trader, a)
		if err != nil {
			return false
		}
		return !(newOpenInterest.GreaterThan(oldOpenInterest) && newOpenInterest.GreaterThan(openInterestLimit))
	}
	return signedSearch(checkTrading, guess, isTraderBuy)
}

// closableWhenUnsafe is false when the AMM is unsafe under β1 and the
// trade would grow its position further from zero.
func closableWhenUnsafe(c amm.TradingContext, isTraderBuy bool) (bool, error) {
	safe, err := amm.IsAMMSafe(c, c.OpenSlippageFactor)
	if err != nil {
		return false, err
	}
	if safe {
		return true, nil
	}
	if isTraderBuy && c.Position1.IsNegative() {
		return false, nil
	}
	if !isTraderBuy && c.Position1.IsPositive() {
		return false, nil
	}
	return true, nil
}

func signedSearch(f func(math.Decimal) bool, guess math.Decimal, isTraderBuy bool) (math.Decimal, error) {
	maxAmount, err := math.SearchMaxAmount(f, math.SearchOptions{Guess: &guess})
	if err != nil {
		return math.Zero, err
	}
	if !isTraderBuy {
		maxAmount = maxAmount.Neg()
	}
	return maxAmount, nil
}

func (e *Engine) LimitOrderMaxTradeAmount(
	contexts map[int64]order.Context,
	walletBalance math.Decimal,
	orders []order.Order,
	symbol int64,
	limitPrice math.Decimal,
	isTraderBuy bool,
	targetLeverage math.Decimal,
) (math.Decimal, error) {
	start := time.Now()
	ret, err := LimitOrderMaxTradeAmount(contexts, walletBalance, orders, symbol, limitPrice, isTraderBuy, targetLeverage)
	e.observe("limit_order_max_trade_amount", start, err)
	return ret, err
}

func (e *Engine) OrderCost(
	contexts map[int64]order.Context,
	walletBalance math.Decimal,
	orders []order.Order,
	newOrder order.Order,
) (math.Decimal, error) {
	start := time.Now()
	oldAvailable, err := order.OrderAvailable(contexts, walletBalance, orders, newOrder.Symbol)
	var ret math.Decimal
	if err == nil {
		ret, err = order.OrderCost(contexts, walletBalance, orders, oldAvailable, newOrder)
	}
	e.observe("order_cost", start, err)
	return ret, err
}
