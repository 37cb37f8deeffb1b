package domain

import "math"

// PricingRates carries the configured charge rates applied at checkout.
// Percentage rates are expressed in basis points (500 = 5%).
type PricingRates struct {
	TaxBasisPoints      int64
	DiscountBasisPoints int64
	StandardDelivery    int64
	ExpressDelivery     int64
}

// DeliveryCharge returns the flat delivery fee for the chosen tier.
func (r PricingRates) DeliveryCharge(kind DeliveryKind) int64 {
	if kind == DeliveryKindExpress {
		return r.ExpressDelivery
	}
	return r.StandardDelivery
}

// ComputeCharges derives the full charge breakdown for a supplier-scoped
// order. Taxes apply to the subtotal only and the discount applies when a
// coupon code is present. The total never drops below zero.
func ComputeCharges(subtotal int64, kind DeliveryKind, couponApplied bool, rates PricingRates) OrderCharges {
	charges := OrderCharges{
		Subtotal:       subtotal,
		DeliveryCharge: rates.DeliveryCharge(kind),
		Taxes:          roundBasisPoints(subtotal, rates.TaxBasisPoints),
	}
	if couponApplied {
		charges.Discount = roundBasisPoints(subtotal, rates.DiscountBasisPoints)
	}
	charges.Total = charges.Subtotal + charges.DeliveryCharge + charges.Taxes - charges.Discount
	if charges.Total < 0 {
		charges.Total = 0
	}
	return charges
}

func roundBasisPoints(amount, bps int64) int64 {
	return int64(math.Round(float64(amount) * float64(bps) / 10000))
}
