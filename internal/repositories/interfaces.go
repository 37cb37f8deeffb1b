package repositories

import (
	"context"
	"time"

	domain "github.com/freshmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Catalog() CatalogRepository
	Carts() CartRepository
	Directory() DirectoryRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides the query surface for
// customers, suppliers, admins, and delivery associates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update persists the order only when the stored version matches
	// order.Version; a mismatch surfaces a RepositoryError with IsConflict.
	// The stored version is incremented on success.
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListAvailableForDelivery returns orders that have no delivery associate
	// and are still claimable.
	ListAvailableForDelivery(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// ClaimDelivery atomically attaches the associate to the order. Orders that
	// already carry an associate, or that left the claimable statuses, surface
	// a RepositoryError with IsConflict.
	ClaimDelivery(ctx context.Context, orderID string, assignment domain.DeliveryAssignment) (domain.Order, error)
	CountByStatus(ctx context.Context, filter OrderCountFilter) (map[domain.OrderStatus]int64, error)
}

// OrderListFilter narrows order listings. Zero-value fields are ignored.
type OrderListFilter struct {
	CustomerID  string
	SupplierID  string
	AssociateID string
	Status      []domain.OrderStatus
	DateRange   domain.RangeQuery[time.Time]
	Pagination  domain.Pagination
}

// OrderCountFilter scopes status counts to one participant.
type OrderCountFilter struct {
	CustomerID string
	SupplierID string
}

// CatalogRepository stores products and owns the stock ledger.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	ListBySupplier(ctx context.Context, supplierID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	// DecrementStock atomically validates and applies every line in one
	// transaction. Insufficient stock on any line fails the whole batch with a
	// StockError and leaves all stock untouched.
	DecrementStock(ctx context.Context, lines []StockLine, now time.Time) error
}

// StockLine is one product decrement within an atomic stock reservation.
type StockLine struct {
	ProductID  string
	Quantity   int
	Variations []domain.ItemVariation
}

// CartRepository owns cart persistence keyed by customer.
type CartRepository interface {
	Get(ctx context.Context, customerID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, customerID string, items []domain.CartItem) (domain.Cart, error)
	Clear(ctx context.Context, customerID string) error
}

// DirectoryRepository resolves platform participants to notification contacts.
type DirectoryRepository interface {
	FindContact(ctx context.Context, participantID string) (domain.Contact, error)
	FindAdmins(ctx context.Context) ([]domain.Contact, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
