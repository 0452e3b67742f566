package ingestion

import (
	"encoding/json"
	"math/big"
	"time"

	"PerpAMM/internal/errs"
	"PerpAMM/internal/event"
	"PerpAMM/internal/math"
	"PerpAMM/internal/order"
	"PerpAMM/internal/state"

	"github.com/google/uuid"
)

// ParseRequest converts a JSON preview request into its typed form. Every
// failure is an InvalidArgument error.
func ParseRequest(rt event.RequestType, data []byte) (event.Request, error) {
	switch rt {
	case event.RequestTypeTradePreview:
		return parseTradePreview(data)
	case event.RequestTypeMaxTrade:
		return parseMaxTradeQuery(data)
	case event.RequestTypeAddLiquidityPreview:
		return parseAddLiquidityPreview(data)
	case event.RequestTypeRemoveLiquidityPreview:
		return parseRemoveLiquidityPreview(data)
	case event.RequestTypeFundingRate:
		return parseFundingRateQuery(data)
	case event.RequestTypeAccount:
		return parseAccountQuery(data)
	case event.RequestTypeOrderCost:
		return parseOrderCostQuery(data)
	case event.RequestTypeAmountWithPrice:
		return parseAmountWithPriceQuery(data)
	case event.RequestTypeTradeByMargin:
		return parseTradeByMarginQuery(data)
	case event.RequestTypeLimitOrderMax:
		return parseLimitOrderMaxQuery(data)
	default:
		return nil, errs.InvalidArgument("unknown request type: %s", rt)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Preview requests
// carry plain decimal strings ("1.5"); snapshots carry raw on-chain wad
// integers ("1500000000000000000").

type accountJSON struct {
	CashBalance    string  `json:"cash_balance"`
	PositionAmount string  `json:"position_amount"`
	TargetLeverage string  `json:"target_leverage"`
	EntryValue     *string `json:"entry_value,omitempty"`
	EntryFunding   *string `json:"entry_funding,omitempty"`
}

func (j accountJSON) toStorage() (state.AccountStorage, error) {
	var a state.AccountStorage
	var err error
	if a.CashBalance, err = parseDecimal("cash_balance", j.CashBalance); err != nil {
		return a, err
	}
	if a.PositionAmount, err = parseDecimal("position_amount", j.PositionAmount); err != nil {
		return a, err
	}
	if a.TargetLeverage, err = parseDecimal("target_leverage", j.TargetLeverage); err != nil {
		return a, err
	}
	if j.EntryValue != nil {
		v, err := parseDecimal("entry_value", *j.EntryValue)
		if err != nil {
			return a, err
		}
		a.EntryValue = &v
	}
	if j.EntryFunding != nil {
		v, err := parseDecimal("entry_funding", *j.EntryFunding)
		if err != nil {
			return a, err
		}
		a.EntryFunding = &v
	}
	return a, nil
}

type tradePreviewJSON struct {
	RequestID      string      `json:"request_id"`
	Pool           string      `json:"pool"`
	PerpetualIndex int         `json:"perpetual_index"`
	Trader         accountJSON `json:"trader"`
	Amount         string      `json:"amount"`
	Flags          uint32      `json:"flags"`
}

func parseTradePreview(data []byte) (*event.TradePreview, error) {
	var j tradePreviewJSON
	if err := unmarshal("TradePreview", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := j.Trader.toStorage()
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, errs.InvalidArgument("amount must be non-zero")
	}
	return &event.TradePreview{
		ID:             id,
		Pool:           j.Pool,
		PerpetualIndex: j.PerpetualIndex,
		Trader:         trader,
		Amount:         amount,
		Flags:          state.TradeFlag(j.Flags),
	}, nil
}

type maxTradeJSON struct {
	RequestID      string      `json:"request_id"`
	Pool           string      `json:"pool"`
	PerpetualIndex int         `json:"perpetual_index"`
	Trader         accountJSON `json:"trader"`
	WalletBalance  string      `json:"wallet_balance"`
	Side           string      `json:"side"` // "buy" or "sell"
	TargetLeverage string      `json:"target_leverage"`
}

func parseMaxTradeQuery(data []byte) (*event.MaxTradeQuery, error) {
	var j maxTradeJSON
	if err := unmarshal("MaxTrade", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := j.Trader.toStorage()
	if err != nil {
		return nil, err
	}
	wallet, err := parseDecimal("wallet_balance", j.WalletBalance)
	if err != nil {
		return nil, err
	}
	leverage, err := parseDecimal("target_leverage", j.TargetLeverage)
	if err != nil {
		return nil, err
	}
	isBuy, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	return &event.MaxTradeQuery{
		ID:             id,
		Pool:           j.Pool,
		PerpetualIndex: j.PerpetualIndex,
		Trader:         trader,
		WalletBalance:  wallet,
		IsTraderBuy:    isBuy,
		TargetLeverage: leverage,
	}, nil
}

type liquidityJSON struct {
	RequestID     string `json:"request_id"`
	Pool          string `json:"pool"`
	TotalShare    string `json:"total_share"`
	CashToAdd     string `json:"cash_to_add"`
	ShareToRemove string `json:"share_to_remove"`
}

func parseAddLiquidityPreview(data []byte) (*event.AddLiquidityPreview, error) {
	var j liquidityJSON
	if err := unmarshal("AddLiquidityPreview", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	totalShare, err := parseDecimal("total_share", j.TotalShare)
	if err != nil {
		return nil, err
	}
	cash, err := parseDecimal("cash_to_add", j.CashToAdd)
	if err != nil {
		return nil, err
	}
	return &event.AddLiquidityPreview{
		ID:         id,
		Pool:       j.Pool,
		TotalShare: totalShare,
		CashToAdd:  cash,
	}, nil
}

func parseRemoveLiquidityPreview(data []byte) (*event.RemoveLiquidityPreview, error) {
	var j liquidityJSON
	if err := unmarshal("RemoveLiquidityPreview", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	totalShare, err := parseDecimal("total_share", j.TotalShare)
	if err != nil {
		return nil, err
	}
	share, err := parseDecimal("share_to_remove", j.ShareToRemove)
	if err != nil {
		return nil, err
	}
	return &event.RemoveLiquidityPreview{
		ID:            id,
		Pool:          j.Pool,
		TotalShare:    totalShare,
		ShareToRemove: share,
	}, nil
}

type marketQueryJSON struct {
	RequestID      string      `json:"request_id"`
	Pool           string      `json:"pool"`
	PerpetualIndex int         `json:"perpetual_index"`
	Account        accountJSON `json:"account"`
}

func parseFundingRateQuery(data []byte) (*event.FundingRateQuery, error) {
	var j marketQueryJSON
	if err := unmarshal("FundingRate", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	return &event.FundingRateQuery{
		ID:             id,
		Pool:           j.Pool,
		PerpetualIndex: j.PerpetualIndex,
	}, nil
}

func parseAccountQuery(data []byte) (*event.AccountQuery, error) {
	var j marketQueryJSON
	if err := unmarshal("Account", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	account, err := j.Account.toStorage()
	if err != nil {
		return nil, err
	}
	return &event.AccountQuery{
		ID:             id,
		Pool:           j.Pool,
		PerpetualIndex: j.PerpetualIndex,
		Account:        account,
	}, nil
}

type orderJSON struct {
	OrderID        string `json:"order_id"`
	Symbol         int64  `json:"symbol"`
	LimitPrice     string `json:"limit_price"`
	Amount         string `json:"amount"`
	TargetLeverage string `json:"target_leverage"`
}

func (j orderJSON) toOrder() (order.Order, error) {
	var o order.Order
	var err error
	if j.OrderID != "" {
		if o.ID, err = uuid.Parse(j.OrderID); err != nil {
			return o, errs.InvalidArgument("parse order_id: %v", err)
		}
	}
	o.Symbol = j.Symbol
	if o.LimitPrice, err = parseDecimal("limit_price", j.LimitPrice); err != nil {
		return o, err
	}
	if o.Amount, err = parseDecimal("amount", j.Amount); err != nil {
		return o, err
	}
	if o.TargetLeverage, err = parseDecimal("target_leverage", j.TargetLeverage); err != nil {
		return o, err
	}
	return o, nil
}

type marketRefJSON struct {
	Symbol         int64       `json:"symbol"`
	Pool           string      `json:"pool"`
	PerpetualIndex int         `json:"perpetual_index"`
	Account        accountJSON `json:"account"`
}

func parseMarkets(refs []marketRefJSON) (map[int64]event.MarketRef, error) {
	markets := make(map[int64]event.MarketRef, len(refs))
	for _, m := range refs {
		if err := requirePool(m.Pool); err != nil {
			return nil, err
		}
		if _, dup := markets[m.Symbol]; dup {
			return nil, errs.InvalidArgument("duplicate market symbol %d", m.Symbol)
		}
		account, err := m.Account.toStorage()
		if err != nil {
			return nil, err
		}
		markets[m.Symbol] = event.MarketRef{Pool: m.Pool, PerpetualIndex: m.PerpetualIndex, Account: account}
	}
	return markets, nil
}

func parseOrders(list []orderJSON) ([]order.Order, error) {
	orders := make([]order.Order, 0, len(list))
	for _, oj := range list {
		o, err := oj.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

type orderCostJSON struct {
	RequestID     string          `json:"request_id"`
	Markets       []marketRefJSON `json:"markets"`
	WalletBalance string          `json:"wallet_balance"`
	Orders        []orderJSON     `json:"orders"`
	NewOrder      orderJSON       `json:"new_order"`
}

func parseOrderCostQuery(data []byte) (*event.OrderCostQuery, error) {
	var j orderCostJSON
	if err := unmarshal("OrderCost", data, &j); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	markets, err := parseMarkets(j.Markets)
	if err != nil {
		return nil, err
	}
	wallet, err := parseDecimal("wallet_balance", j.WalletBalance)
	if err != nil {
		return nil, err
	}
	orders, err := parseOrders(j.Orders)
	if err != nil {
		return nil, err
	}
	newOrder, err := j.NewOrder.toOrder()
	if err != nil {
		return nil, err
	}
	ref, ok := markets[newOrder.Symbol]
	if !ok {
		return nil, errs.InvalidArgument("no market for new order symbol %d", newOrder.Symbol)
	}
	return &event.OrderCostQuery{
		ID:            id,
		Pool:          ref.Pool,
		Markets:       markets,
		WalletBalance: wallet,
		Orders:        orders,
		NewOrder:      newOrder,
	}, nil
}

type amountWithPriceJSON struct {
	RequestID      string `json:"request_id"`
	Pool           string `json:"pool"`
	PerpetualIndex int    `json:"perpetual_index"`
	Side           string `json:"side"`
	LimitPrice     string `json:"limit_price"`
}

func parseAmountWithPriceQuery(data []byte) (*event.AmountWithPriceQuery, error) {
	var j amountWithPriceJSON
	if err := unmarshal("AmountWithPrice", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	isBuy, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	limit, err := parseDecimal("limit_price", j.LimitPrice)
	if err != nil {
		return nil, err
	}
	if !limit.IsPositive() {
		return nil, errs.InvalidArgument("limit_price must be positive")
	}
	return &event.AmountWithPriceQuery{
		ID:             id,
		Pool:           j.Pool,
		PerpetualIndex: j.PerpetualIndex,
		IsTraderBuy:    isBuy,
		LimitPrice:     limit,
	}, nil
}

type tradeByMarginJSON struct {
	RequestID      string `json:"request_id"`
	Pool           string `json:"pool"`
	PerpetualIndex int    `json:"perpetual_index"`
	DeltaMargin    string `json:"delta_margin"`
}

func parseTradeByMarginQuery(data []byte) (*event.TradeByMarginQuery, error) {
	var j tradeByMarginJSON
	if err := unmarshal("TradeByMargin", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	delta, err := parseDecimal("delta_margin", j.DeltaMargin)
	if err != nil {
		return nil, err
	}
	return &event.TradeByMarginQuery{
		ID:             id,
		Pool:           j.Pool,
		PerpetualIndex: j.PerpetualIndex,
		DeltaMargin:    delta,
	}, nil
}

type limitOrderMaxJSON struct {
	RequestID      string          `json:"request_id"`
	Markets        []marketRefJSON `json:"markets"`
	WalletBalance  string          `json:"wallet_balance"`
	Orders         []orderJSON     `json:"orders"`
	Symbol         int64           `json:"symbol"`
	LimitPrice     string          `json:"limit_price"`
	Side           string          `json:"side"`
	TargetLeverage string          `json:"target_leverage"`
}

func parseLimitOrderMaxQuery(data []byte) (*event.LimitOrderMaxQuery, error) {
	var j limitOrderMaxJSON
	if err := unmarshal("LimitOrderMax", data, &j); err != nil {
		return nil, err
	}
	id, err := parseRequestID(j.RequestID)
	if err != nil {
		return nil, err
	}
	markets, err := parseMarkets(j.Markets)
	if err != nil {
		return nil, err
	}
	ref, ok := markets[j.Symbol]
	if !ok {
		return nil, errs.InvalidArgument("no market for symbol %d", j.Symbol)
	}
	wallet, err := parseDecimal("wallet_balance", j.WalletBalance)
	if err != nil {
		return nil, err
	}
	orders, err := parseOrders(j.Orders)
	if err != nil {
		return nil, err
	}
	limit, err := parseDecimal("limit_price", j.LimitPrice)
	if err != nil {
		return nil, err
	}
	isBuy, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	leverage, err := parseDecimal("target_leverage", j.TargetLeverage)
	if err != nil {
		return nil, err
	}
	return &event.LimitOrderMaxQuery{
		ID:             id,
		Pool:           ref.Pool,
		Markets:        markets,
		WalletBalance:  wallet,
		Orders:         orders,
		Symbol:         j.Symbol,
		LimitPrice:     limit,
		IsTraderBuy:    isBuy,
		TargetLeverage: leverage,
	}, nil
}

// --- Snapshots ---

type optionJSON struct {
	Value    string `json:"value"`
	MinValue string `json:"min_value"`
	MaxValue string `json:"max_value"`
}

type perpetualJSON struct {
	Index  int    `json:"index"`
	State  int64  `json:"state"`
	Oracle string `json:"oracle"`

	TotalCollateral         string `json:"total_collateral"`
	MarkPrice               string `json:"mark_price"`
	IndexPrice              string `json:"index_price"`
	FundingRate             string `json:"funding_rate"`
	UnitAccumulativeFunding string `json:"unit_accumulative_funding"`

	InitialMarginRate      string `json:"initial_margin_rate"`
	MaintenanceMarginRate  string `json:"maintenance_margin_rate"`
	OperatorFeeRate        string `json:"operator_fee_rate"`
	LpFeeRate              string `json:"lp_fee_rate"`
	ReferrerRebateRate     string `json:"referrer_rebate_rate"`
	LiquidationPenaltyRate string `json:"liquidation_penalty_rate"`
	KeeperGasReward        string `json:"keeper_gas_reward"`
	InsuranceFundRate      string `json:"insurance_fund_rate"`
	OpenInterest           string `json:"open_interest"`
	MaxOpenInterestRate    string `json:"max_open_interest_rate"`

	HalfSpread            optionJSON `json:"half_spread"`
	OpenSlippageFactor    optionJSON `json:"open_slippage_factor"`
	CloseSlippageFactor   optionJSON `json:"close_slippage_factor"`
	FundingRateFactor     optionJSON `json:"funding_rate_factor"`
	FundingRateLimit      optionJSON `json:"funding_rate_limit"`
	AMMMaxLeverage        optionJSON `json:"amm_max_leverage"`
	MaxClosePriceDiscount optionJSON `json:"max_close_price_discount"`
	DefaultTargetLeverage optionJSON `json:"default_target_leverage"`
	BaseFundingRate       optionJSON `json:"base_funding_rate"`

	Symbol             int64  `json:"symbol"`
	UnderlyingSymbol   string `json:"underlying_symbol"`
	IsMarketClosed     bool   `json:"is_market_closed"`
	IsTerminated       bool   `json:"is_terminated"`
	AMMCashBalance     string `json:"amm_cash_balance"`
	AMMPositionAmount  string `json:"amm_position_amount"`
	IsInversePerpetual bool   `json:"is_inverse_perpetual"`
}

type snapshotJSON struct {
	Pool        string `json:"pool"`
	Block       uint64 `json:"block"`
	TimestampUs int64  `json:"timestamp_us"`

	IsSynced              bool   `json:"is_synced"`
	IsRunning             bool   `json:"is_running"`
	IsFastCreationEnabled bool   `json:"is_fast_creation_enabled"`
	InsuranceFundCap      string `json:"insurance_fund_cap"`

	Creator              string `json:"creator"`
	Operator             string `json:"operator"`
	TransferringOperator string `json:"transferring_operator"`
	Governor             string `json:"governor"`
	ShareToken           string `json:"share_token"`
	Collateral           string `json:"collateral"`
	Vault                string `json:"vault"`
	VaultFeeRate         string `json:"vault_fee_rate"`
	CollateralDecimals   int32  `json:"collateral_decimals"`

	PoolCashBalance      string `json:"pool_cash_balance"`
	IsAMMMaintenanceSafe bool   `json:"is_amm_maintenance_safe"`
	FundingTime          int64  `json:"funding_time"`
	OperatorExpiration   int64  `json:"operator_expiration"`
	InsuranceFund        string `json:"insurance_fund"`
	DonatedInsuranceFund string `json:"donated_insurance_fund"`
	LiquidityCap         string `json:"liquidity_cap"`
	ShareTransferDelay   int64  `json:"share_transfer_delay"`

	Perpetuals []perpetualJSON `json:"perpetuals"`
}

// ParseSnapshot decodes a pool snapshot published by the chain reader and
// validates it. Numeric fields are wad-scaled integers.
func ParseSnapshot(data []byte) (*event.SnapshotUpdate, error) {
	var j snapshotJSON
	if err := unmarshal("Snapshot", data, &j); err != nil {
		return nil, err
	}
	if err := requirePool(j.Pool); err != nil {
		return nil, err
	}

	w := wadReader{}
	p := &state.LiquidityPoolStorage{
		IsSynced:              j.IsSynced,
		IsRunning:             j.IsRunning,
		IsFastCreationEnabled: j.IsFastCreationEnabled,
		InsuranceFundCap:      w.read("insurance_fund_cap", j.InsuranceFundCap),
		Creator:               j.Creator,
		Operator:              j.Operator,
		TransferringOperator:  j.TransferringOperator,
		Governor:              j.Governor,
		ShareToken:            j.ShareToken,
		Collateral:            j.Collateral,
		Vault:                 j.Vault,
		VaultFeeRate:          w.read("vault_fee_rate", j.VaultFeeRate),
		CollateralDecimals:    j.CollateralDecimals,
		PoolCashBalance:       w.read("pool_cash_balance", j.PoolCashBalance),
		IsAMMMaintenanceSafe:  j.IsAMMMaintenanceSafe,
		FundingTime:           j.FundingTime,
		OperatorExpiration:    j.OperatorExpiration,
		InsuranceFund:         w.read("insurance_fund", j.InsuranceFund),
		DonatedInsuranceFund:  w.read("donated_insurance_fund", j.DonatedInsuranceFund),
		LiquidityCap:          w.read("liquidity_cap", j.LiquidityCap),
		ShareTransferDelay:    j.ShareTransferDelay,
		Perpetuals:            make(map[int]*state.PerpetualStorage, len(j.Perpetuals)),
	}
	for _, pj := range j.Perpetuals {
		if _, dup := p.Perpetuals[pj.Index]; dup {
			return nil, errs.InvalidArgument("duplicate perpetual index %d", pj.Index)
		}
		st, err := state.ParsePerpetualState(pj.State)
		if err != nil {
			return nil, err
		}
		p.Perpetuals[pj.Index] = &state.PerpetualStorage{
			State:                   st,
			Oracle:                  pj.Oracle,
			TotalCollateral:         w.read("total_collateral", pj.TotalCollateral),
			MarkPrice:               w.read("mark_price", pj.MarkPrice),
			IndexPrice:              w.read("index_price", pj.IndexPrice),
			FundingRate:             w.read("funding_rate", pj.FundingRate),
			UnitAccumulativeFunding: w.read("unit_accumulative_funding", pj.UnitAccumulativeFunding),
			InitialMarginRate:       w.read("initial_margin_rate", pj.InitialMarginRate),
			MaintenanceMarginRate:   w.read("maintenance_margin_rate", pj.MaintenanceMarginRate),
			OperatorFeeRate:         w.read("operator_fee_rate", pj.OperatorFeeRate),
			LpFeeRate:               w.read("lp_fee_rate", pj.LpFeeRate),
			ReferrerRebateRate:      w.read("referrer_rebate_rate", pj.ReferrerRebateRate),
			LiquidationPenaltyRate:  w.read("liquidation_penalty_rate", pj.LiquidationPenaltyRate),
			KeeperGasReward:         w.read("keeper_gas_reward", pj.KeeperGasReward),
			InsuranceFundRate:       w.read("insurance_fund_rate", pj.InsuranceFundRate),
			OpenInterest:            w.read("open_interest", pj.OpenInterest),
			MaxOpenInterestRate:     w.read("max_open_interest_rate", pj.MaxOpenInterestRate),
			HalfSpread:              w.option("half_spread", pj.HalfSpread),
			OpenSlippageFactor:      w.option("open_slippage_factor", pj.OpenSlippageFactor),
			CloseSlippageFactor:     w.option("close_slippage_factor", pj.CloseSlippageFactor),
			FundingRateFactor:       w.option("funding_rate_factor", pj.FundingRateFactor),
			FundingRateLimit:        w.option("funding_rate_limit", pj.FundingRateLimit),
			AMMMaxLeverage:          w.option("amm_max_leverage", pj.AMMMaxLeverage),
			MaxClosePriceDiscount:   w.option("max_close_price_discount", pj.MaxClosePriceDiscount),
			DefaultTargetLeverage:   w.option("default_target_leverage", pj.DefaultTargetLeverage),
			BaseFundingRate:         w.option("base_funding_rate", pj.BaseFundingRate),
			Symbol:                  pj.Symbol,
			UnderlyingSymbol:        pj.UnderlyingSymbol,
			IsMarketClosed:          pj.IsMarketClosed,
			IsTerminated:            pj.IsTerminated,
			AMMCashBalance:          w.read("amm_cash_balance", pj.AMMCashBalance),
			AMMPositionAmount:       w.read("amm_position_amount", pj.AMMPositionAmount),
			IsInversePerpetual:      pj.IsInversePerpetual,
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	if err := state.ValidatePool(p); err != nil {
		return nil, err
	}

	ts := time.Now()
	if j.TimestampUs > 0 {
		ts = time.UnixMicro(j.TimestampUs)
	}
	return &event.SnapshotUpdate{
		Pool:      j.Pool,
		Block:     j.Block,
		Snapshot:  p,
		Timestamp: ts,
	}, nil
}

// wadReader keeps the first parse error so a snapshot can be read in one
// struct literal.
type wadReader struct {
	err error
}

func (w *wadReader) read(name, s string) math.Decimal {
	if s == "" || w.err != nil {
		return math.Zero
	}
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		w.err = errs.InvalidArgument("parse %s: %q is not a wad integer", name, s)
		return math.Zero
	}
	return math.FromWad(raw)
}

func (w *wadReader) option(name string, o optionJSON) state.Option {
	return state.Option{
		Value:    w.read(name, o.Value),
		MinValue: w.read(name+".min_value", o.MinValue),
		MaxValue: w.read(name+".max_value", o.MaxValue),
	}
}

// --- helpers ---

func unmarshal(what string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errs.InvalidArgument("parse %s: %v", what, err)
	}
	return nil
}

// parseRequestID returns a fresh ID when the caller sent none.
func parseRequestID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errs.InvalidArgument("parse request_id: %v", err)
	}
	return id, nil
}

// parseDecimal treats an empty string as zero.
func parseDecimal(name, s string) (math.Decimal, error) {
	if s == "" {
		return math.Zero, nil
	}
	v, err := math.NewFromString(s)
	if err != nil {
		return math.Zero, errs.InvalidArgument("parse %s: %v", name, err)
	}
	return v, nil
}

func parseSide(s string) (bool, error) {
	switch s {
	case "buy":
		return true, nil
	case "sell":
		return false, nil
	default:
		return false, errs.InvalidArgument("side must be buy or sell, got %q", s)
	}
}

func requirePool(pool string) error {
	if pool == "" {
		return errs.InvalidArgument("pool is required")
	}
	return nil
}
