package form

import "github.com/shopspring/decimal"

// Excedent is the amount paid beyond what is owed. Negative means shortfall.
func Excedent(paid decimal.Decimal, owed decimal.Decimal) decimal.Decimal {
	return paid.Sub(owed)
}

type Tone int

const (
	ToneZero Tone = iota
	TonePositive
	ToneNegative
)

func (t Tone) String() string {
	switch t {
	case TonePositive:
		return "positive"
	case ToneNegative:
		return "negative"
	default:
		return "zero"
	}
}

func ToneOf(excedent decimal.Decimal) Tone {
	switch excedent.Sign() {
	case 1:
		return TonePositive
	case -1:
		return ToneNegative
	default:
		return ToneZero
	}
}
