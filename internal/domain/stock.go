package domain

import "fmt"

// StockDenialReason classifies why a reservation was refused.
type StockDenialReason string

const (
	// DenialBelowMinimum means the requested quantity is under the product minimum.
	DenialBelowMinimum StockDenialReason = "below_minimum"
	// DenialInsufficientStock means the requested quantity exceeds available stock.
	DenialInsufficientStock StockDenialReason = "insufficient_stock"
	// DenialProductInactive means the product is not currently purchasable.
	DenialProductInactive StockDenialReason = "product_inactive"
)

// StockDenial is the guard's refusal, carrying a message safe to show the
// shopper verbatim.
type StockDenial struct {
	Reason  StockDenialReason
	Message string
}

// Error implements the error interface.
func (d *StockDenial) Error() string { return d.Message }

// CanReserve decides whether a quantity change on a cart line is admissible.
// Stock here is the quantity actually reservable by this cart: live stock
// minus units already held by other carts. Rules apply in order: the
// product must be active, requested must meet the product minimum, and
// existing plus requested must fit within stock. A nil return means allowed.
func CanReserve(product Product, existingReservedQty, requestedQty int) *StockDenial {
	if !product.Active {
		return &StockDenial{
			Reason:  DenialProductInactive,
			Message: fmt.Sprintf("%s is no longer available", product.Name),
		}
	}
	if requestedQty < product.MinOrderQuantity {
		return &StockDenial{
			Reason:  DenialBelowMinimum,
			Message: fmt.Sprintf("minimum order quantity is %d", product.MinOrderQuantity),
		}
	}
	if existingReservedQty+requestedQty > product.Stock {
		if existingReservedQty > 0 {
			return &StockDenial{
				Reason: DenialInsufficientStock,
				Message: fmt.Sprintf("you already have %d in cart, only %d total available",
					existingReservedQty, product.Stock),
			}
		}
		return &StockDenial{
			Reason:  DenialInsufficientStock,
			Message: fmt.Sprintf("only %d available", product.Stock),
		}
	}
	return nil
}
