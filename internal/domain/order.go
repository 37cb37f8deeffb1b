package domain

import (
	"strings"
	"time"
)

// OrderStatus is the primary lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusPending means the order is placed and awaiting supplier action.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing means the supplier accepted the order and is preparing it.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusOutForDelivery means the order left the warehouse with an associate.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered means the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled means the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned means the customer sent the order back after delivery.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusDamaged means the shipment was damaged in transit. Terminal.
	OrderStatusDamaged OrderStatus = "damaged"
)

// KnownOrderStatuses lists every status an order may hold.
var KnownOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusDamaged,
}

// Valid reports whether the status is a recognised order status.
func (s OrderStatus) Valid() bool {
	for _, known := range KnownOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// PaymentMethod enumerates the payment instruments accepted at checkout.
type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodDebitCard      PaymentMethod = "debit_card"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodUPI            PaymentMethod = "upi"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
)

// Valid reports whether the payment method is accepted.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodCashOnDelivery,
		PaymentMethodUPI, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// PaymentStatus tracks settlement of the order total.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// DeliveryStatus is the sub-state an assigned delivery moves through.
type DeliveryStatus string

const (
	// DeliveryStatusAssigned means an associate accepted or was given the order.
	DeliveryStatusAssigned DeliveryStatus = "assigned"
	// DeliveryStatusPickedUp means the associate collected the parcel.
	DeliveryStatusPickedUp DeliveryStatus = "picked_up"
	// DeliveryStatusOnTheWay means the associate is en route to the customer.
	DeliveryStatusOnTheWay DeliveryStatus = "on_the_way"
	// DeliveryStatusDelivered means the handover succeeded. Terminal.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed means the delivery attempt failed. Terminal.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Valid reports whether the delivery status is recognised.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusAssigned, DeliveryStatusPickedUp, DeliveryStatusOnTheWay,
		DeliveryStatusDelivered, DeliveryStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the delivery sub-status admits no further transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// DeliveryKind selects the delivery service level chosen at checkout.
type DeliveryKind string

const (
	// DeliveryKindStandard is the default delivery tier.
	DeliveryKindStandard DeliveryKind = "standard"
	// DeliveryKindExpress is the premium delivery tier.
	DeliveryKindExpress DeliveryKind = "express"
)

// Valid reports whether the delivery kind is recognised.
func (k DeliveryKind) Valid() bool {
	return k == DeliveryKindStandard || k == DeliveryKindExpress
}

// StatusHistoryEntry is one append-only audit record of a status change.
type StatusHistoryEntry struct {
	Status        OrderStatus
	UpdatedAt     time.Time
	UpdatedBy     string
	UpdatedByRole ActorRole
	Note          string
}

// DeliveryAssignment links an order to the associate carrying it.
type DeliveryAssignment struct {
	AssociateID string
	AssignedAt  time.Time
	Status      DeliveryStatus
}

// ItemVariation snapshots the chosen product variation at purchase time.
type ItemVariation struct {
	Name  string
	Value string
}

// OrderItem is a purchased line within a supplier-scoped order. UnitPrice is
// the undiscounted per-unit price including variation surcharges;
// DiscountedUnitPrice is what the customer is charged per unit (equal to
// UnitPrice when no product discount applies). TotalPrice is
// Quantity times DiscountedUnitPrice, frozen at purchase time.
type OrderItem struct {
	ProductID           string
	Name                string
	Quantity            int
	UnitPrice           int64
	DiscountedUnitPrice int64
	TotalPrice          int64
	Variations          []ItemVariation
}

// LineTotal returns the charged amount for the line, deriving it from the
// discounted unit price when the stored total is absent.
func (i OrderItem) LineTotal() int64 {
	if i.TotalPrice > 0 {
		return i.TotalPrice
	}
	price := i.DiscountedUnitPrice
	if price <= 0 {
		price = i.UnitPrice
	}
	return int64(i.Quantity) * price
}

// OrderCharges breaks the order total into its monetary components.
// All amounts are minor currency units.
type OrderCharges struct {
	Subtotal       int64
	DeliveryCharge int64
	Taxes          int64
	Discount       int64
	Total          int64
}

// Order is a supplier-scoped purchase tracked through the fulfillment lifecycle.
// A single checkout produces one Order per distinct supplier in the cart.
type Order struct {
	ID                    string
	OrderNumber           string
	CustomerID            string
	SupplierID            string
	Items                 []OrderItem
	Charges               OrderCharges
	Currency              string
	Status                OrderStatus
	StatusHistory         []StatusHistoryEntry
	PaymentMethod         PaymentMethod
	PaymentStatus         PaymentStatus
	DeliveryKind          DeliveryKind
	DeliveryAddress       DeliveryAddress
	Delivery              *DeliveryAssignment
	CouponCode            string
	Notes                 string
	InvoiceURL            string
	InvoiceNumber         string
	EstimatedDeliveryDate time.Time
	DeliveredAt           *time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AppendHistory records a status change in the audit trail. The trail is
// append-only; earlier entries are never rewritten, and a repeated status is
// not recorded twice in a row.
func (o *Order) AppendHistory(status OrderStatus, at time.Time, actor Actor, note string) {
	if o.LastHistoryStatus() == status {
		return
	}
	o.StatusHistory = append(o.StatusHistory, StatusHistoryEntry{
		Status:        status,
		UpdatedAt:     at,
		UpdatedBy:     actor.ID,
		UpdatedByRole: actor.Role,
		Note:          strings.TrimSpace(note),
	})
}

// LastHistoryStatus returns the status of the most recent history entry, or
// the zero value when no history exists yet.
func (o *Order) LastHistoryStatus() OrderStatus {
	if len(o.StatusHistory) == 0 {
		return ""
	}
	return o.StatusHistory[len(o.StatusHistory)-1].Status
}

// AssignedTo reports whether the order is currently assigned to the associate.
func (o *Order) AssignedTo(associateID string) bool {
	return o.Delivery != nil && o.Delivery.AssociateID == associateID
}

// Subtotal sums the charged line totals across all items.
func (o *Order) Subtotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	return total
}
