package domain

import "github.com/shopspring/decimal"

// SubMode identifies a SHOCKWAVE sub-market. REGULAR options carry no
// sub-mode; SubModeRegular is used only as their pool key.
type SubMode string

const (
	SubModeRegular          SubMode = "REGULAR"
	SubModeDataSniper       SubMode = "DATA_SNIPER"
	SubModeVolatilityHunter SubMode = "VOLATILITY_HUNTER"
	SubModeJackpot          SubMode = "JACKPOT"
)

// Valid reports whether m names a SHOCKWAVE sub-market.
func (m SubMode) Valid() bool {
	switch m {
	case SubModeDataSniper, SubModeVolatilityHunter, SubModeJackpot:
		return true
	}
	return false
}

// FixedOdds reports whether the sub-market pays pre-set odds instead of
// pari-mutuel odds.
func (m SubMode) FixedOdds() bool {
	return m == SubModeJackpot
}

// Well-known range labels.
const (
	LabelDovish  = "DOVISH"
	LabelNeutral = "NEUTRAL"
	LabelHawkish = "HAWKISH"
	LabelCalm    = "CALM"
	LabelTsunami = "TSUNAMI"
)

// Verdict is the settlement outcome of an option.
type Verdict string

const (
	VerdictPending Verdict = ""
	VerdictWin     Verdict = "WIN"
	VerdictLose    Verdict = "LOSE"
	VerdictRefund  Verdict = "REFUND"
)

// Option is a single outcome users can back within an event.
type Option struct {
	ID            string              `json:"id"`
	EventID       string              `json:"event_id"`
	RangeLabel    string              `json:"range_label"`
	RangeMin      decimal.NullDecimal `json:"range_min"`
	RangeMax      decimal.NullDecimal `json:"range_max"`
	SubMode       SubMode             `json:"sub_mode,omitempty"`
	Odds          decimal.NullDecimal `json:"odds"`
	TotalExposure decimal.Decimal     `json:"total_exposure"`
	IsWinner      bool                `json:"is_winner"`
	Verdict       Verdict             `json:"verdict,omitempty"`
}

// Market returns the pool the option belongs to.
func (o Option) Market() SubMode {
	if o.SubMode == "" {
		return SubModeRegular
	}
	return o.SubMode
}

// Contains reports whether v lies in the half-open range [RangeMin, RangeMax).
// A null bound is unbounded on that side.
func (o Option) Contains(v decimal.Decimal) bool {
	if o.RangeMin.Valid && v.LessThan(o.RangeMin.Decimal) {
		return false
	}
	if o.RangeMax.Valid && !v.LessThan(o.RangeMax.Decimal) {
		return false
	}
	return true
}
