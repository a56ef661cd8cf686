package order

import "testing"

func TestRound100(t *testing.T) {
	tests := []struct {
		in, want int64
	}{
		{0, 0},
		{-120, 0},
		{49, 0},
		{50, 100},
		{149, 100},
		{150, 200},
		{4949, 4900},
		{4950, 5000},
		{5000, 5000},
		{5049, 5000},
		{5050, 5100},
	}
	for _, tt := range tests {
		if got := Round100(tt.in); got != tt.want {
			t.Fatalf("Round100(%d)=%d want=%d", tt.in, got, tt.want)
		}
	}
}

func TestPercentRound100HalfUp(t *testing.T) {
	tests := []struct {
		base, pct, want int64
	}{
		{1250, 52, 700},  // 650.00 rounds up
		{1249, 52, 600},  // 649.48 rounds down
		{5000, 52, 2600}, // exact
		{4900, 52, 2500}, // 2548
		{5000, 240, 12000},
		{4100, 240, 9800}, // 9840
		{0, 240, 0},
	}
	for _, tt := range tests {
		if got := percentRound100(tt.base, tt.pct); got != tt.want {
			t.Fatalf("percentRound100(%d,%d)=%d want=%d", tt.base, tt.pct, got, tt.want)
		}
	}
}

func TestDerivePrices(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want PriceTable
	}{
		{"round number", 5000, PriceTable{Price5kg: 2600, Price10kg: 5000, Price25kg: 12000}},
		{"half rounds up before deriving", 4950, PriceTable{Price5kg: 2600, Price10kg: 5000, Price25kg: 12000}},
		{"just below half rounds down", 4949, PriceTable{Price5kg: 2500, Price10kg: 4900, Price25kg: 11800}},
		{"small price", 980, PriceTable{Price5kg: 500, Price10kg: 1000, Price25kg: 2400}},
		{"zero", 0, PriceTable{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePrices(tt.in)
			if got != tt.want {
				t.Fatalf("DerivePrices(%d)=%+v want=%+v", tt.in, got, tt.want)
			}
		})
	}
}
