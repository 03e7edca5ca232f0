package orders

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/portfolio"
	"paper-trader-go/internal/risk"
)

// FeeModel estimates commission so affordability checks include fees.
type FeeModel interface {
	Commission(quantity, price decimal.Decimal) decimal.Decimal
}

// Config wires a Manager to the account it trades for.
type Config struct {
	Portfolio   *portfolio.Portfolio
	Risk        *risk.Engine
	State       *risk.RunState
	Fees        FeeModel
	Instruments map[string]market.Instrument
}

// Manager owns every order of one account. All mutation happens under mu so
// API submissions and the tick loop never interleave mid-step.
type Manager struct {
	mu          sync.RWMutex
	logger      *zap.Logger
	book        *portfolio.Portfolio
	risk        *risk.Engine
	state       *risk.RunState
	fees        FeeModel
	instruments map[string]market.Instrument
	now         time.Time
	lastID      ID
	orders      map[ID]*Order
	open        []ID
}

// NewManager creates an order manager.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.Portfolio == nil {
		return nil, errors.New("order manager requires a portfolio")
	}
	if cfg.Risk == nil {
		return nil, errors.New("order manager requires a risk engine")
	}
	state := cfg.State
	if state == nil {
		state = risk.NewRunState(cfg.Portfolio.Equity(), cfg.Risk.Limits().VaRLookback)
	}
	instruments := make(map[string]market.Instrument, len(cfg.Instruments))
	for symbol, inst := range cfg.Instruments {
		instruments[symbol] = inst
	}
	return &Manager{
		logger:      logger.Named("orders"),
		book:        cfg.Portfolio,
		risk:        cfg.Risk,
		state:       state,
		fees:        cfg.Fees,
		instruments: instruments,
		orders:      make(map[ID]*Order),
	}, nil
}

// timestamp is the time of the last tick. Orders are stamped with it, so an
// order placed between ticks becomes eligible on the next bar.
func (m *Manager) timestamp() time.Time {
	return m.now
}

func (m *Manager) create(req Request, contingency Contingency) *Order {
	m.lastID++
	o := newOrder(m.lastID, req, m.timestamp())
	o.Contingency = contingency
	m.orders[o.ID] = o
	return o
}

// Submit validates, funds-checks and risk-checks a single order. Rejected
// orders are recorded and returned together with the reason.
func (m *Manager) Submit(req Request) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := m.create(req, Standalone)
	if err := m.admit(o, decimal.Zero); err != nil {
		m.reject(o, err)
		return o.clone(), err
	}
	m.accept(o)
	return o.clone(), nil
}

// SubmitOCO places two orders where any fill on one cancels the other.
// Both legs are accepted or both are rejected.
func (m *Manager) SubmitOCO(req OCORequest) ([2]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	first, second := m.create(req.First, OCO), m.create(req.Second, OCO)
	first.LinkedOrderIDs = []ID{second.ID}
	second.LinkedOrderIDs = []ID{first.ID}

	err := validateOCO(req)
	if err == nil {
		err = m.admit(first, decimal.Zero)
	}
	if err == nil {
		err = m.admit(second, decimal.Zero)
	}
	if err != nil {
		m.reject(first, err)
		m.reject(second, err)
		return [2]Order{first.clone(), second.clone()}, err
	}
	m.accept(first)
	m.accept(second)
	return [2]Order{first.clone(), second.clone()}, nil
}

// SubmitBracket places an entry with dormant stop-loss and take-profit legs.
// The legs become an OCO pair once the entry fills.
func (m *Manager) SubmitBracket(req BracketRequest) ([3]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.create(req.Entry, Bracket)
	stop := m.create(req.StopLoss, Bracket)
	take := m.create(req.TakeProfit, Bracket)
	entry.ChildIDs = []ID{stop.ID, take.ID}
	stop.ParentID, take.ParentID = entry.ID, entry.ID
	stop.LinkedOrderIDs = []ID{take.ID}
	take.LinkedOrderIDs = []ID{stop.ID}
	group := func() [3]Order { return [3]Order{entry.clone(), stop.clone(), take.clone()} }

	err := m.validate(entry)
	var ref decimal.Decimal
	if err == nil {
		ref, _ = m.reference(entry)
		err = validateBracket(req, ref)
	}
	if err == nil {
		err = m.validate(stop)
	}
	if err == nil {
		err = m.validate(take)
	}
	if err == nil {
		err = m.checkFunds(entry)
	}
	if err == nil {
		err = m.checkRisk(entry, protectiveStop(*stop, ref))
	}
	if err != nil {
		for _, o := range []*Order{entry, stop, take} {
			m.reject(o, err)
		}
		return group(), err
	}

	m.accept(entry)
	stop.Dormant, take.Dormant = true, true
	m.accept(stop)
	m.accept(take)
	return group(), nil
}

func protectiveStop(stop Order, entryPrice decimal.Decimal) decimal.Decimal {
	if stop.Kind == TrailingStop {
		stop.WaterMark = entryPrice
		return stop.TrailingStopPrice()
	}
	return stop.StopPrice
}

// Cancel cancels a working order. Cancelling an OCO leg cancels its sibling;
// cancelling an unfilled bracket entry cancels the whole group.
func (m *Manager) Cancel(id ID) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %d", ErrUnknownOrder, id)
	}
	if !o.Status.Working() {
		return o.clone(), fmt.Errorf("%w: order %d is %s", ErrInvalidStateTransition, id, o.Status)
	}
	m.cancel(o, "cancelled by request", m.timestamp())
	return o.clone(), nil
}

// Preview runs validation, affordability and risk checks without recording
// anything.
func (m *Manager) Preview(req Request) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o := newOrder(0, req, m.timestamp())
	if err := m.validate(o); err != nil {
		return err
	}
	if err := m.checkFunds(o); err != nil {
		return err
	}
	return m.checkRisk(o, decimal.Zero)
}

func (m *Manager) admit(o *Order, stop decimal.Decimal) error {
	if err := m.validate(o); err != nil {
		return err
	}
	if err := m.checkFunds(o); err != nil {
		return err
	}
	return m.checkRisk(o, stop)
}

func (m *Manager) validate(o *Order) error {
	var inst *market.Instrument
	if i, ok := m.instruments[o.Symbol]; ok {
		inst = &i
	}
	if err := Validate(o.request(), inst); err != nil {
		return err
	}
	if _, ok := m.reference(o); !ok {
		return invalid("no market price for %s", o.Symbol)
	}
	return o.transition(StatusValidated, m.timestamp())
}

// reference is the price an order is expected to execute at.
func (m *Manager) reference(o *Order) (decimal.Decimal, bool) {
	switch o.Kind {
	case Limit, StopLimit:
		return o.LimitPrice, true
	case StopLoss:
		return o.StopPrice, true
	case TrailingStop:
		if o.StopPrice.IsPositive() {
			return o.StopPrice, true
		}
	}
	return m.book.Mark(o.Symbol)
}

func (m *Manager) fee(quantity, price decimal.Decimal) decimal.Decimal {
	if m.fees == nil {
		return decimal.Zero
	}
	return m.fees.Commission(quantity, price)
}

// reserved sums what working orders on side already claim: cash for buys,
// units for sells. Linked siblings can never both fill so only the larger
// claim of a group counts.
func (m *Manager) reserved(side market.Side, symbol string) decimal.Decimal {
	claims := make(map[ID]decimal.Decimal)
	for _, id := range m.open {
		o := m.orders[id]
		if o.Dormant || o.Side != side || (side == market.Sell && o.Symbol != symbol) {
			continue
		}
		amount := o.Remaining()
		if side == market.Buy {
			ref, _ := m.reference(o)
			amount = amount.Mul(ref).Add(m.fee(amount, ref))
		}
		key := o.ID
		for _, linked := range o.LinkedOrderIDs {
			if linked < key {
				key = linked
			}
		}
		if amount.GreaterThan(claims[key]) {
			claims[key] = amount
		}
	}
	total := decimal.Zero
	for _, amount := range claims {
		total = total.Add(amount)
	}
	return total
}

func (m *Manager) checkFunds(o *Order) error {
	qty := o.Remaining()
	if o.Side == market.Buy {
		ref, _ := m.reference(o)
		need := qty.Mul(ref).Add(m.fee(qty, ref))
		available := m.book.Cash().Sub(m.reserved(market.Buy, o.Symbol))
		if need.GreaterThan(available) {
			return fmt.Errorf("%w: buying %s %s needs %s, %s available", ErrInsufficientFunds, qty, o.Symbol, need.StringFixed(2), available.StringFixed(2))
		}
		return nil
	}
	held := decimal.Zero
	if pos, ok := m.book.Position(o.Symbol); ok {
		held = pos.Quantity
	}
	available := held.Sub(m.reserved(market.Sell, o.Symbol))
	if qty.GreaterThan(available) {
		return fmt.Errorf("%w: selling %s %s, %s available", ErrInsufficientFunds, qty, o.Symbol, available)
	}
	return nil
}

func (m *Manager) checkRisk(o *Order, stop decimal.Decimal) error {
	ref, _ := m.reference(o)
	decision := m.risk.Check(risk.Request{
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  o.Remaining(),
		Price:     ref,
		StopPrice: stop,
		Time:      m.timestamp(),
	}, m.book.Snapshot(), m.state)
	if !decision.Allowed {
		return fmt.Errorf("%w: %s: %s", ErrRiskLimitBreach, decision.Rule, decision.Reason)
	}
	return nil
}

func (m *Manager) accept(o *Order) {
	if err := o.transition(StatusAccepted, m.timestamp()); err != nil {
		m.logger.Error("Failed to accept order", zap.Object("order", o), zap.Error(err))
		return
	}
	if o.Kind == TrailingStop && !o.Dormant {
		mark, _ := m.book.Mark(o.Symbol)
		o.WaterMark = mark
		o.StopPrice = o.TrailingStopPrice()
	}
	m.open = append(m.open, o.ID)
	m.logger.Debug("Order accepted", zap.Object("order", o))
}

func (m *Manager) reject(o *Order, err error) {
	if o.Status.Terminal() {
		return
	}
	o.Reason = err.Error()
	o.Status = StatusRejected
	o.UpdatedAt = m.timestamp()
	m.removeOpen(o.ID)
	m.logger.Warn("Order rejected", zap.Object("order", o), zap.Error(err))
}

func (m *Manager) cancel(o *Order, reason string, at time.Time) {
	if !m.cancelOne(o, reason, at) {
		return
	}
	m.cancelSiblings(o, fmt.Sprintf("linked order %d cancelled", o.ID), at)
}

func (m *Manager) cancelOne(o *Order, reason string, at time.Time) bool {
	if err := o.transition(StatusCancelled, at); err != nil {
		return false
	}
	o.Reason = reason
	m.removeOpen(o.ID)
	m.logger.Info("Order cancelled", zap.Uint64("id", uint64(o.ID)), zap.String("reason", reason))
	if len(o.ChildIDs) > 0 {
		m.settleEntry(o, at)
	}
	return true
}

// cancelSiblings cancels the working orders linked to o. Every leg of a
// group lists all the others, so the cancellation never cascades back to o.
func (m *Manager) cancelSiblings(o *Order, reason string, at time.Time) {
	for _, id := range o.LinkedOrderIDs {
		if sibling := m.orders[id]; sibling != nil && sibling.ID != o.ID && sibling.Status.Working() {
			m.cancelOne(sibling, reason, at)
		}
	}
}

// settleEntry resolves dormant bracket legs once the entry stops working.
// Legs follow whatever quantity was actually filled.
func (m *Manager) settleEntry(entry *Order, at time.Time) {
	for _, id := range entry.ChildIDs {
		child := m.orders[id]
		if child == nil || !child.Status.Working() || !child.Dormant {
			continue
		}
		if entry.FilledQty.IsZero() {
			m.cancel(child, fmt.Sprintf("bracket entry %d %s", entry.ID, entry.Status), at)
			continue
		}
		child.Quantity = entry.FilledQty
		child.Dormant = false
		child.ActiveSince = at
		child.UpdatedAt = at
		if child.Kind == TrailingStop {
			child.WaterMark = entry.AvgFillPrice
			child.StopPrice = child.TrailingStopPrice()
		}
		m.logger.Debug("Bracket leg activated", zap.Object("order", child))
	}
}

func (m *Manager) removeOpen(id ID) {
	i := sort.Search(len(m.open), func(i int) bool { return m.open[i] >= id })
	if i < len(m.open) && m.open[i] == id {
		m.open = append(m.open[:i], m.open[i+1:]...)
	}
}

func (o Order) request() Request {
	req := Request{
		Symbol:       o.Symbol,
		Side:         o.Side,
		Kind:         o.Kind,
		Quantity:     o.Quantity,
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		TrailOffset:  o.TrailOffset,
		TrailPercent: o.TrailPercent,
		Tag:          o.Tag,
	}
	if o.Kind == TrailingStop {
		req.StopPrice = decimal.Zero
	}
	return req
}
