package services

import (
	"context"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Actor              = domain.Actor
	ActorRole          = domain.ActorRole
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderItem          = domain.OrderItem
	OrderCharges       = domain.OrderCharges
	DeliveryStatus     = domain.DeliveryStatus
	DeliveryKind       = domain.DeliveryKind
	DeliveryAddress    = domain.DeliveryAddress
	PaymentMethod      = domain.PaymentMethod
	PaymentStatus      = domain.PaymentStatus
	StatusHistoryEntry = domain.StatusHistoryEntry
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Product            = domain.Product
	GeoPoint           = domain.GeoPoint
	SystemHealthReport = domain.SystemHealthReport
)

// CheckoutService assembles orders out of a customer's cart, one order per
// supplier, pricing and reserving stock atomically.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) ([]Order, error)
}

// OrderService owns order reads and the role-gated status state machine.
type OrderService interface {
	Get(ctx context.Context, actor Actor, orderID string) (Order, error)
	List(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListMine(ctx context.Context, actor Actor, filter MyOrdersFilter) (domain.CursorPage[Order], error)
	StatusCounts(ctx context.Context, actor Actor) (map[OrderStatus]int64, error)
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
}

// DeliveryService manages assignment of orders to delivery associates and the
// delivery sub-status machine.
type DeliveryService interface {
	Assign(ctx context.Context, cmd AssignDeliveryCommand) (Order, error)
	SelfAssign(ctx context.Context, cmd SelfAssignCommand) (Order, error)
	UpdateDeliveryStatus(ctx context.Context, cmd DeliveryStatusCommand) (Order, error)
	ListAvailable(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Order], error)
	ListAvailableNearby(ctx context.Context, actor Actor, query NearbyQuery) ([]Order, error)
}

// InvoiceService decides when invoices are generated and keeps generation idempotent.
type InvoiceService interface {
	ShouldGenerate(order Order) bool
	Generate(ctx context.Context, cmd GenerateInvoiceCommand) (Order, error)
	// EnsureInvoice is the automatic path fired by status transitions. It never
	// fails the triggering transition; errors are logged and swallowed.
	EnsureInvoice(ctx context.Context, order Order)
	// DownloadURL resolves a retrieval link for an already generated invoice,
	// time-limited when the document store can sign URLs.
	DownloadURL(ctx context.Context, order Order) (string, error)
}

// CatalogService exposes supplier-facing product management.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListSupplierProducts(ctx context.Context, actor Actor, supplierID string, pager Pagination) (domain.CursorPage[Product], error)
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
}

// CartService manages the customer's mutable cart.
type CartService interface {
	Get(ctx context.Context, customerID string) (Cart, error)
	ReplaceItems(ctx context.Context, cmd ReplaceCartCommand) (Cart, error)
	Clear(ctx context.Context, customerID string) error
}

// SystemService aggregates utility surfaces such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CouponValidator resolves a coupon code to a discount rate in basis points.
// The default implementation grants a flat configured rate to any non-empty
// code; a real coupon registry can be swapped in behind this interface.
type CouponValidator interface {
	Validate(ctx context.Context, code string) (discountBasisPoints int64, err error)
}

// InvoiceRenderer produces the stored invoice document and returns its URL.
type InvoiceRenderer interface {
	Render(ctx context.Context, order Order, invoiceNumber string) (url string, err error)
}

// Command and DTO definitions ------------------------------------------------

// PlaceOrderCommand carries everything needed to assemble orders from a cart.
type PlaceOrderCommand struct {
	CustomerID      string
	Items           []CartItem
	FromCart        bool
	PaymentMethod   PaymentMethod
	DeliveryKind    DeliveryKind
	DeliveryAddress DeliveryAddress
	CouponCode      string
	Notes           string
}

type OrderListFilter = repositories.OrderListFilter

// MyOrdersFilter narrows a participant-scoped order listing.
type MyOrdersFilter struct {
	Status     []OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// TransitionCommand requests one order status transition.
type TransitionCommand struct {
	OrderID string
	Actor   Actor
	Target  OrderStatus
	Note    string
}

// AssignDeliveryCommand attaches a delivery associate by explicit choice.
type AssignDeliveryCommand struct {
	OrderID     string
	Actor       Actor
	AssociateID string
}

// SelfAssignCommand lets an associate claim an unassigned order.
type SelfAssignCommand struct {
	OrderID string
	Actor   Actor
}

// DeliveryStatusCommand advances the delivery sub-status machine.
type DeliveryStatusCommand struct {
	OrderID string
	Actor   Actor
	Target  DeliveryStatus
	Note    string
}

// NearbyQuery filters available orders to a radius around the associate.
type NearbyQuery struct {
	Location      GeoPoint
	MaxDistanceKM float64
	Pagination    Pagination
}

// GenerateInvoiceCommand requests explicit invoice generation.
type GenerateInvoiceCommand struct {
	OrderID string
	Actor   Actor
}

// UpsertProductCommand creates or updates a supplier product.
type UpsertProductCommand struct {
	Actor   Actor
	Product Product
}

// ReplaceCartCommand overwrites the customer's cart contents.
type ReplaceCartCommand struct {
	CustomerID string
	Items      []CartItem
}
