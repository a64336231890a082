package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownPricingStrategy indicates a combo carries a strategy the
// calculator does not understand.
var ErrUnknownPricingStrategy = errors.New("domain: unknown combo pricing strategy")

// ErrComponentVariantMissing indicates a combo component references a variant
// absent from the supplied catalog snapshot.
var ErrComponentVariantMissing = errors.New("domain: combo component variant missing")

// ComboPrice is the authoritative unit price of a combo together with the
// component snapshot persisted on the order line.
type ComboPrice struct {
	UnitPriceVND int64
	Components   []ComponentSnapshot
}

// PriceCombo computes a combo's current unit price from its strategy and the
// supplied component variants. Component unit price is the per-component
// override when present, otherwise the variant's current price. The result is
// clamped to a minimum of zero.
func PriceCombo(combo Combo, variants map[string]ProductVariant) (ComboPrice, error) {
	var (
		total     int64
		snapshots = make([]ComponentSnapshot, 0, len(combo.Components))
	)
	for _, component := range combo.Components {
		variant, ok := variants[component.VariantID]
		if !ok {
			return ComboPrice{}, fmt.Errorf("%w: combo %s variant %s", ErrComponentVariantMissing, combo.ID, component.VariantID)
		}
		unit := variant.PriceVND
		if component.PriceOverrideVND != nil {
			unit = *component.PriceOverrideVND
		}
		total += unit * int64(component.Quantity)
		snapshots = append(snapshots, ComponentSnapshot{
			VariantID:    variant.ID,
			SKU:          variant.SKU,
			Quantity:     component.Quantity,
			UnitPriceVND: unit,
			PriceVersion: variant.PriceVersion,
		})
	}

	price, err := resolveStrategy(combo, total)
	if err != nil {
		return ComboPrice{}, err
	}
	if price < 0 {
		price = 0
	}
	return ComboPrice{UnitPriceVND: price, Components: snapshots}, nil
}

func resolveStrategy(combo Combo, componentTotal int64) (int64, error) {
	switch combo.PricingStrategy {
	case ComboFixedPrice:
		return combo.ListPriceVND, nil
	case ComboSumComponents:
		return componentTotal, nil
	case ComboSumMinusAmount:
		return componentTotal - combo.AmountOffVND, nil
	case ComboSumMinusPercent:
		return roundedPercent(componentTotal, combo.PercentOff), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPricingStrategy, combo.PricingStrategy)
	}
}

// roundedPercent computes round(total * (100 - percent) / 100) in integer
// arithmetic, rounding halves up.
func roundedPercent(total int64, percent int) int64 {
	scaled := total * int64(100-percent)
	if scaled < 0 {
		return (scaled - 50) / 100
	}
	return (scaled + 50) / 100
}
