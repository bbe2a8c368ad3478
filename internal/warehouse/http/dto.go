package http

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

type createProductRequest struct {
	SKU      string          `json:"sku" validate:"omitempty,max=32"`
	Name     string          `json:"name" validate:"required,max=120"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"gte=0"`
}

type updateProductRequest struct {
	Name     *string          `json:"name" validate:"omitempty,min=1,max=120"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int             `json:"quantity" validate:"omitempty,gte=0"`
}

type stockRequest struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
	Location string `json:"location" validate:"required"`
}

type allocationRequest struct {
	Location string `json:"location" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type assignRequest struct {
	Allocations []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

type reconcileRequest struct {
	ExcessStrategy string `json:"excess_strategy" validate:"omitempty,oneof=none accept-physical accept-catalog"`
}

type productResponse struct {
	warehouse.Product
	Status       warehouse.Status        `json:"status,omitempty"`
	Locations    []warehouse.Coord       `json:"locations,omitempty"`
	Distribution *warehouse.Distribution `json:"distribution,omitempty"`
}

type locationRef struct {
	Code string `json:"code"`
	Row  int    `json:"row"`
	Col  int    `json:"col"`
}

type driftResponse struct {
	warehouse.Drift
	Excess    int `json:"excess"`
	Shortfall int `json:"shortfall"`
}

func newDriftResponse(d warehouse.Drift) driftResponse {
	return driftResponse{Drift: d, Excess: d.Excess(), Shortfall: d.Shortfall()}
}

type logResponse struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Action    string `json:"action"`
}
