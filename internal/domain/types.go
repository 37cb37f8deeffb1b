package domain

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ActorRole identifies the authorization role an actor holds when touching an order.
type ActorRole string

const (
	// RoleCustomer is the buyer who placed the order.
	RoleCustomer ActorRole = "customer"
	// RoleSupplier owns the products sold through a supplier-scoped order.
	RoleSupplier ActorRole = "supplier"
	// RoleAdmin is back-office staff with the widest transition rights.
	RoleAdmin ActorRole = "admin"
	// RoleDeliveryAssociate carries orders on the last mile.
	RoleDeliveryAssociate ActorRole = "delivery_associate"
)

// KnownRoles lists every role the platform recognises.
var KnownRoles = []ActorRole{RoleCustomer, RoleSupplier, RoleAdmin, RoleDeliveryAssociate}

// Valid reports whether the role is one the platform recognises.
func (r ActorRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleSupplier, RoleAdmin, RoleDeliveryAssociate:
		return true
	}
	return false
}

// Actor captures who is performing an operation and in what capacity.
type Actor struct {
	ID   string
	Role ActorRole
}

// GeoPoint stores a WGS84 coordinate used for delivery address lookups.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// DeliveryAddress is the shipping destination snapshot embedded in an order.
type DeliveryAddress struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Location   *GeoPoint
}
