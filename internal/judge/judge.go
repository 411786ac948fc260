// Package judge decides the settlement verdict of every option in an event.
// Each sub-market has its own decision function; Judge dispatches on the
// option's market through a lookup table.
package judge

import (
	"fmt"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/shopspring/decimal"
)

// Rules holds the thresholds the decision functions compare against.
type Rules struct {
	Margin           decimal.Decimal // DATA_SNIPER neutral band half-width
	CalmThreshold    decimal.Decimal // VOLATILITY_HUNTER: delta below wins CALM
	TsunamiThreshold decimal.Decimal // VOLATILITY_HUNTER: delta at or above wins TSUNAMI
}

// DefaultRules returns margin 0.01, calm 200, tsunami 1000.
func DefaultRules() Rules {
	return Rules{
		Margin:           decimal.RequireFromString("0.01"),
		CalmThreshold:    decimal.NewFromInt(200),
		TsunamiThreshold: decimal.NewFromInt(1000),
	}
}

// Snapshot is the fixed set of observed values an event is judged on.
type Snapshot struct {
	ExpectedValue decimal.Decimal
	ActualValue   decimal.NullDecimal
	BasePrice     decimal.NullDecimal
	SettlePrice   decimal.NullDecimal
	// Delta is the realized move a REGULAR pool is judged on.
	Delta decimal.NullDecimal
}

// Decision is the verdict for one option.
type Decision struct {
	OptionID string
	Market   domain.SubMode
	Verdict  domain.Verdict
}

// Func decides one SHOCKWAVE option.
type Func func(r Rules, o domain.Option, s Snapshot) (domain.Verdict, error)

var table = map[domain.SubMode]Func{
	domain.SubModeDataSniper: func(r Rules, o domain.Option, s Snapshot) (domain.Verdict, error) {
		if !s.ActualValue.Valid {
			return "", domain.ErrActualValueMissing
		}
		return DataSniper(r, o.RangeLabel, s.ActualValue.Decimal, s.ExpectedValue), nil
	},
	domain.SubModeVolatilityHunter: func(r Rules, o domain.Option, s Snapshot) (domain.Verdict, error) {
		if !s.BasePrice.Valid || !s.SettlePrice.Valid {
			return "", domain.ErrNoPriceData
		}
		delta := s.SettlePrice.Decimal.Sub(s.BasePrice.Decimal).Abs()
		return VolatilityHunter(r, o.RangeLabel, delta), nil
	},
	domain.SubModeJackpot: func(_ Rules, o domain.Option, s Snapshot) (domain.Verdict, error) {
		if !s.SettlePrice.Valid {
			return "", domain.ErrNoPriceData
		}
		return Jackpot(o, s.SettlePrice.Decimal), nil
	},
}

func verdict(win bool) domain.Verdict {
	if win {
		return domain.VerdictWin
	}
	return domain.VerdictLose
}

// DataSniper judges actual against expected. The three labels partition the
// diff axis: NEUTRAL owns both boundaries at exactly ±margin.
func DataSniper(r Rules, label string, actual, expected decimal.Decimal) domain.Verdict {
	diff := actual.Sub(expected)
	switch label {
	case domain.LabelDovish:
		return verdict(diff.LessThan(r.Margin.Neg()))
	case domain.LabelHawkish:
		return verdict(diff.GreaterThan(r.Margin))
	case domain.LabelNeutral:
		return verdict(diff.Abs().LessThanOrEqual(r.Margin))
	}
	return domain.VerdictLose
}

// VolatilityHunter judges the absolute price move. Between the two
// thresholds neither side wins and both are refunded.
func VolatilityHunter(r Rules, label string, delta decimal.Decimal) domain.Verdict {
	calm := delta.LessThan(r.CalmThreshold)
	tsunami := delta.GreaterThanOrEqual(r.TsunamiThreshold)
	switch label {
	case domain.LabelTsunami:
		switch {
		case tsunami:
			return domain.VerdictWin
		case calm:
			return domain.VerdictLose
		}
		return domain.VerdictRefund
	case domain.LabelCalm:
		switch {
		case calm:
			return domain.VerdictWin
		case tsunami:
			return domain.VerdictLose
		}
		return domain.VerdictRefund
	}
	return domain.VerdictLose
}

// Jackpot wins when price falls in the option's half-open range.
func Jackpot(o domain.Option, price decimal.Decimal) domain.Verdict {
	return verdict(o.Contains(price))
}

// Regular returns the id of the single option whose range contains delta.
func Regular(options []domain.Option, delta decimal.Decimal) (string, error) {
	winner := ""
	for _, o := range options {
		if !o.Contains(delta) {
			continue
		}
		if winner != "" {
			return "", fmt.Errorf("judge: delta %s: %w", delta, domain.ErrAmbiguousWinner)
		}
		winner = o.ID
	}
	if winner == "" {
		return "", fmt.Errorf("judge: delta %s: %w", delta, domain.ErrNoWinningOption)
	}
	return winner, nil
}

// Judge decides every option of an event against the snapshot.
func Judge(r Rules, options []domain.Option, s Snapshot) ([]Decision, error) {
	decisions := make([]Decision, 0, len(options))
	var regular []domain.Option
	for _, o := range options {
		m := o.Market()
		if m == domain.SubModeRegular {
			regular = append(regular, o)
			continue
		}
		fn, ok := table[m]
		if !ok {
			return nil, fmt.Errorf("judge: option %s: unknown sub-mode %q: %w", o.ID, m, domain.ErrInvalidInput)
		}
		v, err := fn(r, o, s)
		if err != nil {
			return nil, fmt.Errorf("judge: option %s: %w", o.ID, err)
		}
		decisions = append(decisions, Decision{OptionID: o.ID, Market: m, Verdict: v})
	}

	if len(regular) > 0 {
		if !s.Delta.Valid {
			return nil, fmt.Errorf("judge: regular pool: %w", domain.ErrNoPriceData)
		}
		winner, err := Regular(regular, s.Delta.Decimal)
		if err != nil {
			return nil, err
		}
		for _, o := range regular {
			decisions = append(decisions, Decision{
				OptionID: o.ID,
				Market:   domain.SubModeRegular,
				Verdict:  verdict(o.ID == winner),
			})
		}
	}
	return decisions, nil
}
