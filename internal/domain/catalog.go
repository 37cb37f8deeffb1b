package domain

import "time"

// ProductVariation is a sellable option of a product with its own stock pool.
// Price is a surcharge added on top of the product price, not a replacement.
type ProductVariation struct {
	Name  string
	Value string
	Price int64
	Stock int
}

// Product is a supplier-owned catalog entry. DiscountedPrice, when positive,
// is the promotional price charged instead of Price.
type Product struct {
	ID              string
	SupplierID      string
	Name            string
	Price           int64
	DiscountedPrice int64
	Currency        string
	Stock           int
	Variations      []ProductVariation
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectivePrice returns the price a buyer actually pays per unit before any
// variation surcharge.
func (p *Product) EffectivePrice() int64 {
	if p.DiscountedPrice > 0 {
		return p.DiscountedPrice
	}
	return p.Price
}

// Variation returns the matching variation, if any.
func (p *Product) Variation(name, value string) *ProductVariation {
	for i := range p.Variations {
		if p.Variations[i].Name == name && p.Variations[i].Value == value {
			return &p.Variations[i]
		}
	}
	return nil
}

// CartItem is one product selection held in a customer's cart.
type CartItem struct {
	ProductID  string
	Quantity   int
	Variations []ItemVariation
}

// Cart holds the pending selections for a customer prior to checkout.
type Cart struct {
	ID         string
	CustomerID string
	Items      []CartItem
	UpdatedAt  time.Time
}

// Contact is a notification endpoint for a platform participant.
type Contact struct {
	ID    string
	Name  string
	Email string
	Roles []ActorRole
}
