package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"

	"paper-trader-go/internal/market"
)

// ID identifies an order within one manager. IDs are issued sequentially.
type ID uint64

// Kind is the execution style of an order.
type Kind string

const (
	Market       Kind = "MARKET"
	Limit        Kind = "LIMIT"
	StopLoss     Kind = "STOP_LOSS"
	StopLimit    Kind = "STOP_LIMIT"
	TrailingStop Kind = "TRAILING_STOP"
)

// Contingency links orders into OCO pairs or bracket groups.
type Contingency string

const (
	Standalone Contingency = ""
	OCO        Contingency = "OCO"
	Bracket    Contingency = "BRACKET"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusValidated       Status = "VALIDATED"
	StatusAccepted        Status = "ACCEPTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

var transitions = map[Status][]Status{
	StatusNew:             {StatusValidated, StatusRejected},
	StatusValidated:       {StatusAccepted, StatusRejected},
	StatusAccepted:        {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired},
}

// Terminal reports whether no further mutation is accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Working reports whether the order can still be matched or cancelled.
func (s Status) Working() bool {
	return s == StatusAccepted || s == StatusPartiallyFilled
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request is what a caller submits. Price fields are kind-dependent.
// TrailOffset is absolute unless TrailPercent is set, then it is a percentage.
type Request struct {
	Symbol       string          `json:"symbol"`
	Side         market.Side     `json:"side"`
	Kind         Kind            `json:"kind"`
	Quantity     decimal.Decimal `json:"quantity"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	TrailOffset  decimal.Decimal `json:"trail_offset"`
	TrailPercent bool            `json:"trail_percent"`
	Tag          string          `json:"tag,omitempty"`
}

// OCORequest submits two legs where a fill on either cancels the other.
type OCORequest struct {
	First  Request `json:"first"`
	Second Request `json:"second"`
}

// BracketRequest submits an entry with a stop-loss and a take-profit that are
// activated once the entry fills.
type BracketRequest struct {
	Entry      Request `json:"entry"`
	StopLoss   Request `json:"stop_loss"`
	TakeProfit Request `json:"take_profit"`
}

// Order is the manager's record of an order. LinkedOrderIDs are cancel-on-fill
// siblings; ChildIDs are the legs a bracket entry activates on fill.
type Order struct {
	ID             ID              `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           market.Side     `json:"side"`
	Kind           Kind            `json:"kind"`
	Contingency    Contingency     `json:"contingency,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	TrailOffset    decimal.Decimal `json:"trail_offset"`
	TrailPercent   bool            `json:"trail_percent"`
	WaterMark      decimal.Decimal `json:"water_mark"`
	Triggered      bool            `json:"triggered"`
	Status         Status          `json:"status"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	LinkedOrderIDs []ID            `json:"linked_order_ids,omitempty"`
	ParentID       ID              `json:"parent_id,omitempty"`
	ChildIDs       []ID            `json:"child_ids,omitempty"`
	Dormant        bool            `json:"dormant"`
	Tag            string          `json:"tag,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ActiveSince    time.Time       `json:"active_since"`
}

func newOrder(id ID, req Request, at time.Time) *Order {
	return &Order{
		ID:           id,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Kind:         req.Kind,
		Quantity:     req.Quantity,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TrailOffset:  req.TrailOffset,
		TrailPercent: req.TrailPercent,
		Status:       StatusNew,
		Tag:          req.Tag,
		CreatedAt:    at,
		UpdatedAt:    at,
		ActiveSince:  at,
	}
}

// Remaining is the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Active reports whether the order takes part in matching.
func (o Order) Active() bool {
	return o.Status.Working() && !o.Dormant
}

// EligibleFor reports whether the order may match bar. Orders only match
// bars that open strictly after they became active.
func (o Order) EligibleFor(bar market.Bar) bool {
	return o.Active() && o.Symbol == bar.Symbol && o.ActiveSince.Before(bar.Time)
}

// TrailingStopPrice derives the stop of a trailing order from its water mark.
func (o Order) TrailingStopPrice() decimal.Decimal {
	offset := o.TrailOffset
	if o.TrailPercent {
		offset = o.WaterMark.Mul(o.TrailOffset).Div(decimal.NewFromInt(100))
	}
	if o.Side == market.Sell {
		return o.WaterMark.Sub(offset)
	}
	return o.WaterMark.Add(offset)
}

func (o Order) clone() Order {
	out := o
	out.LinkedOrderIDs = append([]ID(nil), o.LinkedOrderIDs...)
	out.ChildIDs = append([]ID(nil), o.ChildIDs...)
	return out
}

func (o *Order) transition(to Status, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: order %d %s -> %s", ErrInvalidStateTransition, o.ID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// MarshalLogObject writes the full field set, used for audit logging.
func (o Order) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("id", uint64(o.ID))
	enc.AddString("symbol", o.Symbol)
	enc.AddString("side", string(o.Side))
	enc.AddString("kind", string(o.Kind))
	if o.Contingency != Standalone {
		enc.AddString("contingency", string(o.Contingency))
	}
	enc.AddString("quantity", o.Quantity.String())
	enc.AddString("limit_price", o.LimitPrice.String())
	enc.AddString("stop_price", o.StopPrice.String())
	enc.AddString("trail_offset", o.TrailOffset.String())
	enc.AddBool("trail_percent", o.TrailPercent)
	enc.AddString("status", string(o.Status))
	enc.AddString("filled_qty", o.FilledQty.String())
	if len(o.LinkedOrderIDs) > 0 {
		enc.AddString("linked_order_ids", fmt.Sprint(o.LinkedOrderIDs))
	}
	if o.ParentID != 0 {
		enc.AddUint64("parent_id", uint64(o.ParentID))
	}
	if o.Tag != "" {
		enc.AddString("tag", o.Tag)
	}
	if o.Reason != "" {
		enc.AddString("reason", o.Reason)
	}
	enc.AddTime("created_at", o.CreatedAt)
	enc.AddTime("updated_at", o.UpdatedAt)
	return nil
}
