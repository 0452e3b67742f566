package event

import (
	"PerpAMM/internal/math"

	"github.com/google/uuid"
)

type AddLiquidityPreview struct {
	ID         uuid.UUID
	Pool       string
	TotalShare math.Decimal
	CashToAdd  math.Decimal
}

func (a *AddLiquidityPreview) RequestID() uuid.UUID     { return a.ID }
func (a *AddLiquidityPreview) RequestType() RequestType { return RequestTypeAddLiquidityPreview }
func (a *AddLiquidityPreview) PoolID() string           { return a.Pool }

// RemoveLiquidityPreview with a zero ShareToRemove only reports the
// maximum removable share.
type RemoveLiquidityPreview struct {
	ID            uuid.UUID
	Pool          string
	TotalShare    math.Decimal
	ShareToRemove math.Decimal
}

func (r *RemoveLiquidityPreview) RequestID() uuid.UUID     { return r.ID }
func (r *RemoveLiquidityPreview) RequestType() RequestType { return RequestTypeRemoveLiquidityPreview }
func (r *RemoveLiquidityPreview) PoolID() string           { return r.Pool }
