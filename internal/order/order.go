// Package order simulates how much wallet balance a set of resting limit
// orders ties up. All orders are assumed to share the collateral of the
// current market.
package order

import (
	"sort"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/math"
	"PerpAMM/internal/state"

	"github.com/google/uuid"
)

// Order is a resting limit order. Amount is available + pending; > 0 buys.
type Order struct {
	ID             uuid.UUID    `json:"id"`
	Symbol         int64        `json:"symbol"` // PerpetualStorage.Symbol
	LimitPrice     math.Decimal `json:"limitPrice"`
	Amount         math.Decimal `json:"amount"`
	TargetLeverage math.Decimal `json:"targetLeverage"`
}

// Context locates a trader's account in one market.
type Context struct {
	Pool           *state.LiquidityPoolStorage
	PerpetualIndex int
	Account        state.AccountStorage
}

// PerpetualOrders is the orders of one symbol.
type PerpetualOrders struct {
	Symbol int64
	Orders []Order
}

// SplitOrderPerpetual groups orders by symbol, in the order each symbol
// first appears.
func SplitOrderPerpetual(orders []Order) []PerpetualOrders {
	var groups []PerpetualOrders
	position := make(map[int64]int)
	for _, o := range orders {
		i, ok := position[o.Symbol]
		if !ok {
			i = len(groups)
			position[o.Symbol] = i
			groups = append(groups, PerpetualOrders{Symbol: o.Symbol})
		}
		groups[i].Orders = append(groups[i].Orders, o)
	}
	return groups
}

// SplitOrderSide separates one market's orders into buys (limit descending)
// and sells (limit ascending). Zero-amount orders are dropped.
func SplitOrderSide(orders []Order) (buyOrders, sellOrders []Order) {
	for _, o := range orders {
		switch o.Amount.Sign() {
		case 1:
			buyOrders = append(buyOrders, o)
		case -1:
			sellOrders = append(sellOrders, o)
		}
	}
	sortByLimitPrice(buyOrders, true)
	sortByLimitPrice(sellOrders, false)
	return buyOrders, sellOrders
}

// SplitOrdersByLimitPrice keeps the orders on the isBuy side and splits them
// into those that would fill before a new order at limitPrice and those
// after it, each in fill order.
func SplitOrdersByLimitPrice(orders []Order, limitPrice math.Decimal, isBuy bool) (preOrders, postOrders []Order) {
	for _, o := range orders {
		if (isBuy && o.Amount.Sign() <= 0) || (!isBuy && o.Amount.Sign() >= 0) {
			continue
		}
		if (isBuy && o.LimitPrice.GreaterThanOrEqual(limitPrice)) || (!isBuy && o.LimitPrice.LessThanOrEqual(limitPrice)) {
			preOrders = append(preOrders, o)
		} else {
			postOrders = append(postOrders, o)
		}
	}
	sortByLimitPrice(preOrders, isBuy)
	sortByLimitPrice(postOrders, isBuy)
	return preOrders, postOrders
}

func sortByLimitPrice(orders []Order, descending bool) {
	sort.SliceStable(orders, func(i, j int) bool {
		if descending {
			return orders[i].LimitPrice.GreaterThan(orders[j].LimitPrice)
		}
		return orders[i].LimitPrice.LessThan(orders[j].LimitPrice)
	})
}

// OpenCost is the margin an opening order reserves.
type OpenCost struct {
	Cost          math.Decimal // margin + fee - potentialLoss
	Fee           math.Decimal
	PotentialLoss math.Decimal // <= 0
}

// OpenOrderCost prices an order that only opens. A sell below mark
// reserves margin at mark.
func OpenOrderCost(p *state.LiquidityPoolStorage, perpetualIndex int, o Order, leverage math.Decimal) (OpenCost, error) {
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return OpenCost{}, err
	}
	if !leverage.IsPositive() {
		return OpenCost{}, errs.InvalidArgument("target leverage must be positive, got %s", leverage)
	}
	feeRate := perpetual.TotalFeeRate(p.VaultFeeRate)
	mark := perpetual.MarkPrice
	potentialLoss := math.Min(mark.Sub(o.LimitPrice).Mul(o.Amount), math.Zero)
	fee := o.LimitPrice.Mul(o.Amount.Abs()).Mul(feeRate)
	var margin math.Decimal
	if o.Amount.IsNegative() && o.LimitPrice.LessThan(mark) {
		margin = mark.Mul(o.Amount.Abs()).Div(leverage)
	} else {
		margin = o.LimitPrice.Mul(o.Amount.Abs()).Div(leverage)
	}
	return OpenCost{
		Cost:          margin.Add(fee).Sub(potentialLoss),
		Fee:           fee,
		PotentialLoss: potentialLoss,
	}, nil
}

// SideAvailable is the account after every order of one side has filled.
type SideAvailable struct {
	RemainPosition      math.Decimal `json:"remainPosition"`
	RemainMargin        math.Decimal `json:"remainMargin"`
	RemainWalletBalance math.Decimal `json:"remainWalletBalance"`
}

// OrderSideAvailable fills orders (one market, one side, in fill order)
// against the account. Closing legs run first and release margin to the
// wallet once the account stays above initial margin; opening legs then
// draw at least initial margin plus keeper reward from it.
//
// A close that would go bankrupt zeroes the account and treats the whole
// order as an open.
func OrderSideAvailable(
	p *state.LiquidityPoolStorage,
	perpetualIndex int,
	marginBalance, position, walletBalance math.Decimal,
	orders []Order,
) (SideAvailable, error) {
	perpetual, err := p.Perpetual(perpetualIndex)
	if err != nil {
		return SideAvailable{}, err
	}
	ret := SideAvailable{
		RemainPosition:      position,
		RemainMargin:        marginBalance,
		RemainWalletBalance: walletBalance,
	}
	if len(orders) == 0 {
		return ret, nil
	}
	feeRate := perpetual.TotalFeeRate(p.VaultFeeRate)
	mark := perpetual.MarkPrice
	keeper := perpetual.KeeperGasReward

	// close
	var remainOrders []Order
	for _, o := range orders {
		closeAmount, _ := state.SplitAmount(ret.RemainPosition, o.Amount)
		if closeAmount.IsZero() {
			remainOrders = append(remainOrders, o)
			continue
		}
		newPosition := ret.RemainPosition.Add(closeAmount)
		newPositionMargin := mark.Mul(newPosition.Abs()).Mul(perpetual.InitialMarginRate)
		if !newPosition.IsZero() {
			newPositionMargin = newPositionMargin.Add(keeper)
		}
		potentialLoss := math.Min(mark.Sub(o.LimitPrice).Mul(closeAmount), math.Zero)
		afterMargin := ret.RemainMargin.Add(potentialLoss)

		fee := o.LimitPrice.Mul(closeAmount.Abs()).Mul(feeRate)
		if closeAmount.Equal(o.Amount) {
			// close only: the fee never eats into initial margin
			fee = math.Min(math.Max(afterMargin.Sub(newPositionMargin), math.Zero), fee)
		}
		afterMargin = afterMargin.Sub(fee)

		if afterMargin.IsNegative() {
			ret.RemainPosition = math.Zero
			ret.RemainMargin = math.Zero
			remainOrders = append(remainOrders, o)
			continue
		}

		withdraw := math.Zero
		if afterMargin.GreaterThanOrEqual(newPositionMargin) {
			// afterMargin - reserved2 - (remainMargin - reserved1) * (1 - |close / position|)
			withdraw = closeAmount.Div(ret.RemainPosition).Abs()
			withdraw = math.One.Sub(withdraw).Mul(ret.RemainMargin.Sub(keeper))
			withdraw = afterMargin.Sub(withdraw)
			if !newPosition.IsZero() {
				withdraw = withdraw.Sub(keeper)
			}
			// never deposit on close
			withdraw = math.Max(math.Zero, withdraw)
		}
		ret.RemainMargin = afterMargin.Sub(withdraw)
		ret.RemainWalletBalance = ret.RemainWalletBalance.Add(withdraw)
		ret.RemainPosition = ret.RemainPosition.Add(closeAmount)
		if rest := o.Amount.Sub(closeAmount); !rest.IsZero() {
			o.Amount = rest
			remainOrders = append(remainOrders, o)
		}
	}

	if ret.RemainPosition.IsZero() {
		ret.RemainWalletBalance = ret.RemainWalletBalance.Add(ret.RemainMargin)
		ret.RemainMargin = math.Zero
	}

	// open
	for _, o := range remainOrders {
		openCost, err := OpenOrderCost(p, perpetualIndex, o, o.TargetLeverage)
		if err != nil {
			return SideAvailable{}, err
		}
		cost := openCost.Cost
		if ret.RemainPosition.IsZero() {
			cost = cost.Add(keeper)
		}
		ret.RemainPosition = ret.RemainPosition.Add(o.Amount)
		ret.RemainMargin = ret.RemainMargin.Add(openCost.PotentialLoss).Sub(openCost.Fee)
		// at least IM and keeper reward
		im := mark.Mul(ret.RemainPosition.Abs()).Mul(perpetual.InitialMarginRate).Add(keeper)
		cost = math.Max(im.Sub(ret.RemainMargin), cost)
		ret.RemainMargin = ret.RemainMargin.Add(cost)
		// may go negative; the relayer is expected to cancel part of the order
		ret.RemainWalletBalance = ret.RemainWalletBalance.Sub(cost)
	}
	return ret, nil
}

// OrderPerpetualAvailable is the wallet balance left after the worse of the
// buy side and the sell side of one market fills.
func OrderPerpetualAvailable(
	p *state.LiquidityPoolStorage,
	perpetualIndex int,
	trader state.AccountStorage,
	walletBalance math.Decimal,
	orders []Order,
) (math.Decimal, error) {
	buyOrders, sellOrders := SplitOrderSide(orders)
	details, err := state.ComputeAccount(p, perpetualIndex, trader)
	if err != nil {
		return math.Zero, err
	}
	marginBalance := details.Computed.MarginBalance
	buySide, err := OrderSideAvailable(p, perpetualIndex, marginBalance, trader.PositionAmount, walletBalance, buyOrders)
	if err != nil {
		return math.Zero, err
	}
	sellSide, err := OrderSideAvailable(p, perpetualIndex, marginBalance, trader.PositionAmount, walletBalance, sellOrders)
	if err != nil {
		return math.Zero, err
	}
	return math.Min(buySide.RemainWalletBalance, sellSide.RemainWalletBalance), nil
}

// OrderPerpetualCost is how much of oldAvailable (OrderPerpetualAvailable of
// orders) newOrder would consume.
func OrderPerpetualCost(
	p *state.LiquidityPoolStorage,
	perpetualIndex int,
	trader state.AccountStorage,
	walletBalance math.Decimal,
	orders []Order,
	oldAvailable math.Decimal,
	newOrder Order,
) (math.Decimal, error) {
	newAvailable, err := OrderPerpetualAvailable(p, perpetualIndex, trader, walletBalance, appendOrder(orders, newOrder))
	if err != nil {
		return math.Zero, err
	}
	return math.Max(math.Zero, oldAvailable.Sub(newAvailable)), nil
}

// OrderAvailable is the wallet balance left after all orders across markets
// fill, plus the cash of the current market if it has neither a position
// nor orders.
func OrderAvailable(contexts map[int64]Context, walletBalance math.Decimal, orders []Order, symbol int64) (math.Decimal, error) {
	available := walletBalance
	for _, group := range SplitOrderPerpetual(orders) {
		c, ok := contexts[group.Symbol]
		if !ok {
			return math.Zero, errs.InvalidArgument("unknown symbol %d", group.Symbol)
		}
		var err error
		available, err = OrderPerpetualAvailable(c.Pool, c.PerpetualIndex, c.Account, available, group.Orders)
		if err != nil {
			return math.Zero, err
		}
	}

	current, ok := contexts[symbol]
	if !ok {
		return math.Zero, errs.InvalidArgument("unknown symbol %d", symbol)
	}
	if current.Account.PositionAmount.IsZero() && !hasSymbol(orders, symbol) {
		available = available.Add(current.Account.CashBalance)
	}
	return available, nil
}

// OrderCost is how much of oldAvailable (OrderAvailable of orders) newOrder
// would consume.
func OrderCost(contexts map[int64]Context, walletBalance math.Decimal, orders []Order, oldAvailable math.Decimal, newOrder Order) (math.Decimal, error) {
	newAvailable, err := OrderAvailable(contexts, walletBalance, appendOrder(orders, newOrder), newOrder.Symbol)
	if err != nil {
		return math.Zero, err
	}
	return math.Max(math.Zero, oldAvailable.Sub(newAvailable)), nil
}

// appendOrder never writes into the caller's backing array.
func appendOrder(orders []Order, o Order) []Order {
	ret := make([]Order, 0, len(orders)+1)
	ret = append(ret, orders...)
	return append(ret, o)
}

func hasSymbol(orders []Order, symbol int64) bool {
	for _, o := range orders {
		if o.Symbol == symbol {
			return true
		}
	}
	return false
}
