package execution

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/orders"
)

const pricePlaces = 8

// Simulator fills orders against bars. It is stateless between bars; stop
// triggers that must persist are recorded on the order by the manager.
type Simulator struct {
	slippage   SlippageModel
	commission Commission
	liquidity  LiquidityModel
	logger     *zap.Logger
}

// New builds a simulator from configuration.
func New(cfg Config, logger *zap.Logger) (*Simulator, error) {
	slippage, err := cfg.slippage()
	if err != nil {
		return nil, err
	}
	liquidity, err := cfg.liquidity()
	if err != nil {
		return nil, err
	}
	return &Simulator{
		slippage: slippage,
		commission: Commission{
			PerOrder: decimal.NewFromFloat(cfg.CommissionFlat),
			PerUnit:  decimal.NewFromFloat(cfg.CommissionPerUnit),
			Rate:     decimal.NewFromFloat(cfg.CommissionRate),
		},
		liquidity: liquidity,
		logger:    logger.Named("execution"),
	}, nil
}

// NewWithModels builds a simulator from explicit models.
func NewWithModels(slippage SlippageModel, commission Commission, liquidity LiquidityModel, logger *zap.Logger) *Simulator {
	if liquidity == nil {
		liquidity = Unlimited{}
	}
	return &Simulator{slippage: slippage, commission: commission, liquidity: liquidity, logger: logger.Named("execution")}
}

// Commission implements orders.FeeModel.
func (s *Simulator) Commission(quantity, price decimal.Decimal) decimal.Decimal {
	return s.commission.Commission(quantity, price)
}

type candidate struct {
	order     orders.Order
	reference decimal.Decimal
	limit     bool
	triggered bool
	fillable  bool
}

// Match implements orders.Matcher. Orders are filled in the sequence the bar
// would have reached them, nearest the open first, ties by ID.
func (s *Simulator) Match(bar market.Bar, eligible []orders.Order) []orders.Execution {
	var candidates []candidate
	for _, o := range eligible {
		if c, ok := evaluate(bar, o); ok {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].reference.Sub(bar.Open).Abs()
		dj := candidates[j].reference.Sub(bar.Open).Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return candidates[i].order.ID < candidates[j].order.ID
	})

	capacity, bounded := s.liquidity.Capacity(bar)
	var out []orders.Execution
	for _, c := range candidates {
		if !c.fillable {
			out = append(out, orders.Execution{OrderID: c.order.ID, Triggered: true})
			continue
		}
		qty := c.order.Remaining()
		if bounded {
			qty = decimal.Min(qty, capacity)
			capacity = capacity.Sub(qty)
		}
		if !qty.IsPositive() {
			if c.triggered {
				out = append(out, orders.Execution{OrderID: c.order.ID, Triggered: true})
			}
			continue
		}

		price, slip := c.reference, decimal.Zero
		if !c.limit {
			price, slip = s.slip(bar, c.order.Side, c.reference, qty)
		}
		out = append(out, orders.Execution{
			OrderID:    c.order.ID,
			Quantity:   qty,
			Price:      price,
			Reference:  c.reference,
			Commission: s.commission.Commission(qty, price),
			Slippage:   slip,
			Triggered:  c.triggered,
		})
	}
	if len(out) > 0 {
		s.logger.Debug("Matched bar",
			zap.String("symbol", bar.Symbol),
			zap.Time("time", bar.Time),
			zap.Int("executions", len(out)))
	}
	return out
}

// slip moves reference against the order side, keeping the price inside the bar.
func (s *Simulator) slip(bar market.Bar, side market.Side, reference, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	amount := s.slippage.Slippage(reference, qty, bar)
	price := reference.Add(side.Sign().Mul(amount))
	if side == market.Buy && price.GreaterThan(bar.High) {
		price = bar.High
	}
	if side == market.Sell && price.LessThan(bar.Low) {
		price = bar.Low
	}
	price = price.Round(pricePlaces)
	return price, price.Sub(reference).Abs()
}

// evaluate decides whether o trades on bar and at which reference price.
func evaluate(bar market.Bar, o orders.Order) (candidate, bool) {
	c := candidate{order: o, fillable: true}
	switch o.Kind {
	case orders.Market:
		c.reference = bar.Open
		return c, true
	case orders.Limit:
		c.reference, c.limit = o.LimitPrice, true
		return c, bar.Contains(o.LimitPrice)
	case orders.StopLoss, orders.TrailingStop:
		ref, hit := stopReference(bar, o.Side, o.StopPrice)
		c.reference = ref
		return c, hit
	case orders.StopLimit:
		hit := o.Triggered
		if !hit {
			_, hit = stopReference(bar, o.Side, o.StopPrice)
			c.triggered = hit
		}
		if !hit {
			return c, false
		}
		c.reference, c.limit = o.LimitPrice, true
		c.fillable = bar.Contains(o.LimitPrice)
		if !c.fillable && !c.triggered {
			return c, false
		}
		return c, true
	}
	return c, false
}

// stopReference reports whether the bar crossed stop. On a gap through the
// stop the fill reference is the open, which is the worse price.
func stopReference(bar market.Bar, side market.Side, stop decimal.Decimal) (decimal.Decimal, bool) {
	if !stop.IsPositive() {
		return decimal.Zero, false
	}
	if side == market.Sell {
		if bar.Low.GreaterThan(stop) {
			return decimal.Zero, false
		}
		return decimal.Min(bar.Open, stop), true
	}
	if bar.High.LessThan(stop) {
		return decimal.Zero, false
	}
	return decimal.Max(bar.Open, stop), true
}
