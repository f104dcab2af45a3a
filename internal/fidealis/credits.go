package fidealis

import "strings"

const (
	// DepositProductID identifies the deposit product whose balance the form displays.
	DepositProductID = "4"
	// QuantityUnavailable is reported when a product has no known balance.
	QuantityUnavailable = "N/A"
)

// Credits maps a product identifier to its remaining quantity.
type Credits map[string]string

// Quantity returns the remaining quantity for the product or QuantityUnavailable.
func (credits Credits) Quantity(productID string) string {
	if credits == nil {
		return QuantityUnavailable
	}
	quantity, found := credits[strings.TrimSpace(productID)]
	if !found {
		return QuantityUnavailable
	}
	return quantity
}
