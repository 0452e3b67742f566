package event

import (
	"time"

	"github.com/google/uuid"
)

// RequestType discriminator for preview requests
type RequestType int32

const (
	RequestTypeUnknown RequestType = iota
	RequestTypeTradePreview
	RequestTypeMaxTrade
	RequestTypeAddLiquidityPreview
	RequestTypeRemoveLiquidityPreview
	RequestTypeFundingRate
	RequestTypeAccount
	RequestTypeOrderCost
	RequestTypeAmountWithPrice
	RequestTypeTradeByMargin
	RequestTypeLimitOrderMax
)

// Request is the interface all preview requests implement
type Request interface {
	// RequestID is the caller's key; repeating it returns the logged quote.
	RequestID() uuid.UUID

	RequestType() RequestType

	// PoolID names the snapshot the request is computed on.
	PoolID() string
}

// QuoteEnvelope wraps every computed quote in the quote log
type QuoteEnvelope struct {
	// Monotonic sequence assigned by the quote log worker
	Sequence int64

	RequestID   uuid.UUID
	RequestType RequestType
	PoolID      string

	// Block of the snapshot the quote was computed on
	Block uint64

	// SnapshotDigest of the request inputs
	Digest [32]byte

	// JSON-encoded response
	Payload []byte

	// Error kind when the computation was rejected, "" otherwise
	ErrorKind string

	// Chained hash: SHA-256(prev || sequence || digest)
	ChainHash [32]byte
	PrevHash  [32]byte

	Timestamp time.Time
}

func (rt RequestType) String() string {
	switch rt {
	case RequestTypeTradePreview:
		return "TradePreview"
	case RequestTypeMaxTrade:
		return "MaxTrade"
	case RequestTypeAddLiquidityPreview:
		return "AddLiquidityPreview"
	case RequestTypeRemoveLiquidityPreview:
		return "RemoveLiquidityPreview"
	case RequestTypeFundingRate:
		return "FundingRate"
	case RequestTypeAccount:
		return "Account"
	case RequestTypeOrderCost:
		return "OrderCost"
	case RequestTypeAmountWithPrice:
		return "AmountWithPrice"
	case RequestTypeTradeByMargin:
		return "TradeByMargin"
	case RequestTypeLimitOrderMax:
		return "LimitOrderMax"
	default:
		return "Unknown"
	}
}

// ParseRequestType is the inverse of String.
func ParseRequestType(s string) RequestType {
	for rt := RequestTypeTradePreview; rt <= RequestTypeLimitOrderMax; rt++ {
		if rt.String() == s {
			return rt
		}
	}
	return RequestTypeUnknown
}
