package order

import (
	"errors"
	"fmt"
	"sort"
)

// Tier is a rice bag size in kilograms.
type Tier int

const (
	Tier5kg  Tier = 5
	Tier10kg Tier = 10
	Tier25kg Tier = 25
)

// DefaultMaxKg is the per-reservation weight ceiling.
const DefaultMaxKg = 50

var ErrInvalidSelection = errors.New("invalid_selection")

// Tiers lists the supported bag sizes in ascending order.
func Tiers() []Tier {
	return []Tier{Tier5kg, Tier10kg, Tier25kg}
}

func (t Tier) Valid() bool {
	switch t {
	case Tier5kg, Tier10kg, Tier25kg:
		return true
	}
	return false
}

// Selection maps a bag size to the number of bags requested.
type Selection map[Tier]int

// TotalWeightKg sums tier_kg * qty over all tiers.
func TotalWeightKg(sel Selection) int {
	total := 0
	for tier, qty := range sel {
		total += int(tier) * qty
	}
	return total
}

// IsSubmittable reports whether sel can be checked out under maxKg.
func IsSubmittable(sel Selection, maxKg int) bool {
	return Validate(sel, maxKg) == nil
}

// Validate returns ErrInvalidSelection wrapped with the reason the selection was rejected.
func Validate(sel Selection, maxKg int) error {
	for tier, qty := range sel {
		if !tier.Valid() {
			return fmt.Errorf("%w: unknown size %dkg", ErrInvalidSelection, int(tier))
		}
		if qty < 0 {
			return fmt.Errorf("%w: negative quantity for %dkg", ErrInvalidSelection, int(tier))
		}
		// Bounding each tier first keeps the sum below from overflowing.
		if qty > maxKg/int(tier) {
			return fmt.Errorf("%w: %d x %dkg exceeds limit of %dkg", ErrInvalidSelection, qty, int(tier), maxKg)
		}
	}
	total := TotalWeightKg(sel)
	if total <= 0 {
		return fmt.Errorf("%w: nothing selected", ErrInvalidSelection)
	}
	if total > maxKg {
		return fmt.Errorf("%w: total %dkg exceeds limit of %dkg", ErrInvalidSelection, total, maxKg)
	}
	return nil
}

// Line is one priced row of a reservation.
type Line struct {
	Tier      Tier
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

// Lines prices the non-zero tiers of sel against prices, smallest bag first.
func Lines(sel Selection, prices PriceTable) ([]Line, int64) {
	tiers := make([]Tier, 0, len(sel))
	for tier, qty := range sel {
		if qty > 0 {
			tiers = append(tiers, tier)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	lines := make([]Line, 0, len(tiers))
	var subtotal int64
	for _, tier := range tiers {
		qty := sel[tier]
		unit := prices.UnitPrice(tier)
		line := Line{Tier: tier, Quantity: qty, UnitPrice: unit, Subtotal: unit * int64(qty)}
		subtotal += line.Subtotal
		lines = append(lines, line)
	}
	return lines, subtotal
}
