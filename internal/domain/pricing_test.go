package domain

import (
	"errors"
	"testing"
)

func TestPriceComboStrategies(t *testing.T) {
	variants := map[string]ProductVariant{
		"var_a": {ID: "var_a", SKU: "SKU-A", PriceVND: 60000, PriceVersion: 3},
		"var_b": {ID: "var_b", SKU: "SKU-B", PriceVND: 40000, PriceVersion: 7},
	}
	components := []ComboComponent{
		{VariantID: "var_a", Quantity: 1},
		{VariantID: "var_b", Quantity: 1},
	}

	cases := []struct {
		name  string
		combo Combo
		want  int64
	}{
		{
			name:  "fixed price ignores component total",
			combo: Combo{ID: "cmb_1", PricingStrategy: ComboFixedPrice, ListPriceVND: 75000, Components: components},
			want:  75000,
		},
		{
			name:  "sum components",
			combo: Combo{ID: "cmb_2", PricingStrategy: ComboSumComponents, Components: components},
			want:  100000,
		},
		{
			name:  "sum minus amount",
			combo: Combo{ID: "cmb_3", PricingStrategy: ComboSumMinusAmount, AmountOffVND: 10000, Components: components},
			want:  90000,
		},
		{
			name:  "sum minus percent",
			combo: Combo{ID: "cmb_4", PricingStrategy: ComboSumMinusPercent, PercentOff: 10, Components: components},
			want:  90000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PriceCombo(tc.combo, variants)
			if err != nil {
				t.Fatalf("price combo: %v", err)
			}
			if got.UnitPriceVND != tc.want {
				t.Fatalf("unit price = %d, want %d", got.UnitPriceVND, tc.want)
			}
		})
	}
}

func TestPriceComboClampsToZero(t *testing.T) {
	variants := map[string]ProductVariant{
		"var_a": {ID: "var_a", SKU: "SKU-A", PriceVND: 50000, PriceVersion: 1},
	}
	combo := Combo{
		ID:              "cmb_clamp",
		PricingStrategy: ComboSumMinusAmount,
		AmountOffVND:    60000,
		Components:      []ComboComponent{{VariantID: "var_a", Quantity: 1}},
	}

	got, err := PriceCombo(combo, variants)
	if err != nil {
		t.Fatalf("price combo: %v", err)
	}
	if got.UnitPriceVND != 0 {
		t.Fatalf("unit price = %d, want 0", got.UnitPriceVND)
	}
}

func TestPriceComboPercentRounding(t *testing.T) {
	variants := map[string]ProductVariant{
		"var_a": {ID: "var_a", SKU: "SKU-A", PriceVND: 33333, PriceVersion: 1},
	}
	combo := Combo{
		ID:              "cmb_round",
		PricingStrategy: ComboSumMinusPercent,
		PercentOff:      15,
		Components:      []ComboComponent{{VariantID: "var_a", Quantity: 1}},
	}

	got, err := PriceCombo(combo, variants)
	if err != nil {
		t.Fatalf("price combo: %v", err)
	}
	// 33333 * 85 / 100 = 28333.05 -> 28333
	if got.UnitPriceVND != 28333 {
		t.Fatalf("unit price = %d, want 28333", got.UnitPriceVND)
	}
}

func TestPriceComboHonoursOverrides(t *testing.T) {
	override := int64(25000)
	variants := map[string]ProductVariant{
		"var_a": {ID: "var_a", SKU: "SKU-A", PriceVND: 60000, PriceVersion: 9},
	}
	combo := Combo{
		ID:              "cmb_override",
		PricingStrategy: ComboSumComponents,
		Components:      []ComboComponent{{VariantID: "var_a", Quantity: 2, PriceOverrideVND: &override}},
	}

	got, err := PriceCombo(combo, variants)
	if err != nil {
		t.Fatalf("price combo: %v", err)
	}
	if got.UnitPriceVND != 50000 {
		t.Fatalf("unit price = %d, want 50000", got.UnitPriceVND)
	}
	if len(got.Components) != 1 {
		t.Fatalf("components = %d, want 1", len(got.Components))
	}
	snap := got.Components[0]
	if snap.VariantID != "var_a" || snap.SKU != "SKU-A" || snap.Quantity != 2 {
		t.Fatalf("unexpected snapshot identity: %+v", snap)
	}
	if snap.UnitPriceVND != override {
		t.Fatalf("snapshot unit price = %d, want %d", snap.UnitPriceVND, override)
	}
	if snap.PriceVersion != 9 {
		t.Fatalf("snapshot price version = %d, want 9", snap.PriceVersion)
	}
}

func TestPriceComboMissingComponentVariant(t *testing.T) {
	combo := Combo{
		ID:              "cmb_missing",
		PricingStrategy: ComboSumComponents,
		Components:      []ComboComponent{{VariantID: "var_gone", Quantity: 1}},
	}

	_, err := PriceCombo(combo, map[string]ProductVariant{})
	if !errors.Is(err, ErrComponentVariantMissing) {
		t.Fatalf("err = %v, want ErrComponentVariantMissing", err)
	}
}

func TestPriceComboUnknownStrategy(t *testing.T) {
	combo := Combo{ID: "cmb_bad", PricingStrategy: "BOGO"}

	_, err := PriceCombo(combo, map[string]ProductVariant{})
	if !errors.Is(err, ErrUnknownPricingStrategy) {
		t.Fatalf("err = %v, want ErrUnknownPricingStrategy", err)
	}
}
