package order

// Multipliers applied to the rounded 10kg price, in percent.
const (
	price5kgPercent  = 52
	price25kgPercent = 240
)

// PriceTable holds per-bag prices in yen.
type PriceTable struct {
	Price5kg  int64
	Price10kg int64
	Price25kg int64
}

func (p PriceTable) UnitPrice(t Tier) int64 {
	switch t {
	case Tier5kg:
		return p.Price5kg
	case Tier10kg:
		return p.Price10kg
	case Tier25kg:
		return p.Price25kg
	}
	return 0
}

// Round100 rounds yen to the nearest 100, halves rounding up.
func Round100(yen int64) int64 {
	if yen <= 0 {
		return 0
	}
	return (yen + 50) / 100 * 100
}

// percentRound100 computes round100(base * pct / 100) without leaving integers.
func percentRound100(base, pct int64) int64 {
	if base <= 0 {
		return 0
	}
	// base*pct is in hundredths of a yen; 100 yen = 10000 of those.
	return (base*pct + 5000) / 10000 * 100
}

// DerivePrices rounds the 10kg price and derives the 5kg and 25kg prices from it.
func DerivePrices(price10kg int64) PriceTable {
	base := Round100(price10kg)
	return PriceTable{
		Price5kg:  percentRound100(base, price5kgPercent),
		Price10kg: base,
		Price25kg: percentRound100(base, price25kgPercent),
	}
}
