package domain

import "github.com/shopspring/decimal"

// Scales for fixed-point money values. Amounts, balances and payouts carry
// AmountScale fractional digits; odds carry OddsScale.
//
// Rounding policy:
//   - amounts and payouts are truncated toward zero
//   - binding settlement odds are truncated toward zero
//   - advisory display odds are rounded half-even
//
// Truncating both the payout multiplier and the payout keeps the sum of
// winning payouts at or below the net pool.
const (
	AmountScale int32 = 8
	OddsScale   int32 = 4
)

// TruncAmount truncates a monetary amount to AmountScale digits.
func TruncAmount(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(AmountScale)
}

// TruncOdds truncates a binding payout multiplier to OddsScale digits.
func TruncOdds(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(OddsScale)
}

// RoundDisplayOdds rounds advisory odds half-even to OddsScale digits.
func RoundDisplayOdds(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(OddsScale)
}

// ValidAmount reports whether d is a positive amount representable at
// AmountScale without loss.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(AmountScale))
}
