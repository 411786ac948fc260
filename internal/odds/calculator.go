// Package odds computes pari-mutuel payout multipliers from exposure pools.
// Everything here is pure: identical snapshots give identical output.
package odds

import (
	"sort"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Calculator prices pools net of a house fee.
type Calculator struct {
	fee decimal.Decimal
}

// NewCalculator returns a Calculator keeping houseFee (a fraction, e.g.
// 0.05) of every pool.
func NewCalculator(houseFee decimal.Decimal) Calculator {
	return Calculator{fee: houseFee}
}

// HouseFee returns the configured fee fraction.
func (c Calculator) HouseFee() decimal.Decimal { return c.fee }

// NetPool is the part of total returned to winners.
func (c Calculator) NetPool(total decimal.Decimal) decimal.Decimal {
	return total.Mul(one.Sub(c.fee))
}

// TotalExposure sums the exposure of every option in pool.
func TotalExposure(pool []domain.Option) decimal.Decimal {
	total := decimal.Zero
	for _, o := range pool {
		total = total.Add(o.TotalExposure)
	}
	return total
}

// DisplayOdds prices every option against the whole pool: the multiplier
// its backers would get if it alone won now. Fixed-odds pools pass their
// pre-set odds through. An empty pool or an unbacked option prices at 0.
func (c Calculator) DisplayOdds(pool []domain.Option) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pool))
	total := TotalExposure(pool)
	net := c.NetPool(total)
	for _, o := range pool {
		if o.Market().FixedOdds() {
			if o.Odds.Valid {
				out[o.ID] = o.Odds.Decimal
			} else {
				out[o.ID] = decimal.Zero
			}
			continue
		}
		if total.IsZero() || o.TotalExposure.IsZero() {
			out[o.ID] = decimal.Zero
			continue
		}
		out[o.ID] = domain.RoundDisplayOdds(net.Div(o.TotalExposure))
	}
	return out
}

// FinalOdds is the binding multiplier paid to every winning bet of a pool:
// the net of the whole pool over the winners' share of it.
func (c Calculator) FinalOdds(poolTotal, winnerExposure decimal.Decimal) decimal.Decimal {
	if winnerExposure.IsZero() {
		return decimal.Zero
	}
	return domain.TruncOdds(c.NetPool(poolTotal).Div(winnerExposure))
}

// GroupByMarket splits options into their sub-market pools, keeping input
// order within each pool.
func GroupByMarket(options []domain.Option) map[domain.SubMode][]domain.Option {
	pools := make(map[domain.SubMode][]domain.Option)
	for _, o := range options {
		m := o.Market()
		pools[m] = append(pools[m], o)
	}
	return pools
}

// OptionOdds is one priced line on a Board.
type OptionOdds struct {
	OptionID string          `json:"option_id"`
	Label    string          `json:"label"`
	Exposure decimal.Decimal `json:"exposure"`
	Odds     decimal.Decimal `json:"odds"`
}

// Pool is one sub-market on a Board.
type Pool struct {
	Market        domain.SubMode  `json:"market"`
	TotalExposure decimal.Decimal `json:"total_exposure"`
	NetPool       decimal.Decimal `json:"net_pool"`
	Options       []OptionOdds    `json:"options"`
}

// Board is the live odds view of one event.
type Board struct {
	EventID string             `json:"event_id"`
	Status  domain.EventStatus `json:"status"`
	Pools   []Pool             `json:"pools"`
}

// Board prices every pool of the event. Pools are ordered by market name.
func (c Calculator) Board(event domain.Event) Board {
	grouped := GroupByMarket(event.Options)
	markets := make([]domain.SubMode, 0, len(grouped))
	for m := range grouped {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i] < markets[j] })

	board := Board{EventID: event.ID, Status: event.Status, Pools: make([]Pool, 0, len(markets))}
	for _, m := range markets {
		pool := grouped[m]
		prices := c.DisplayOdds(pool)
		total := TotalExposure(pool)
		p := Pool{
			Market:        m,
			TotalExposure: total,
			NetPool:       domain.TruncAmount(c.NetPool(total)),
			Options:       make([]OptionOdds, 0, len(pool)),
		}
		for _, o := range pool {
			p.Options = append(p.Options, OptionOdds{
				OptionID: o.ID,
				Label:    o.RangeLabel,
				Exposure: o.TotalExposure,
				Odds:     prices[o.ID],
			})
		}
		board.Pools = append(board.Pools, p)
	}
	return board
}
