package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/freshmart/api/internal/domain"
	pfirestore "github.com/freshmart/api/internal/platform/firestore"
	"github.com/freshmart/api/internal/repositories"
)

const ordersCollection = "orders"

// claimableStatuses are the primary statuses in which an unassigned order may
// still be claimed by a delivery associate.
var claimableStatuses = []string{
	string(domain.OrderStatusPending),
	string(domain.OrderStatusProcessing),
}

// OrderRepository persists order documents within Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert creates the order document. When a transaction is running on the
// context the create joins it so multi-order checkouts commit atomically.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)

	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		if err := tx.Create(ref, doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}

	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update persists the order only when the stored version matches
// order.Version. The stored document carries order.Version+1 afterwards, so
// concurrent writers lose with a conflict instead of clobbering each other.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", id, err)
		}
		if stored.Version != order.Version {
			return status.Errorf(codes.Aborted, "order %s version mismatch: have %d, want %d", id, stored.Version, order.Version)
		}

		doc := newOrderDocument(order)
		doc.Version = order.Version + 1
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = stored.CreatedAt
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return updated, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List pages through orders newest first, applying the filter's participant
// and status constraints.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if cid := strings.TrimSpace(filter.CustomerID); cid != "" {
		query = query.Where("customerId", "==", cid)
	}
	if sid := strings.TrimSpace(filter.SupplierID); sid != "" {
		query = query.Where("supplierId", "==", sid)
	}
	if aid := strings.TrimSpace(filter.AssociateID); aid != "" {
		query = query.Where("delivery.associateId", "==", aid)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	return r.page(ctx, query, filter.Pagination)
}

// ListAvailableForDelivery returns claimable orders with no associate, oldest
// first so waiting orders surface before fresh ones.
func (r *OrderRepository) ListAvailableForDelivery(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listAvailable", err)
	}

	query := client.Collection(ordersCollection).
		Where("status", "in", claimableStatuses).
		Where("hasAssociate", "==", false)

	pageSize := normalisePageSize(pager.PageSize)
	query = query.
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listAvailable", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	orders, err := collectDocuments(ctx, query, decodeOrderSnapshot)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listAvailable", err)
	}
	return paginate(orders, pageSize)
}

// ClaimDelivery atomically attaches the associate to an unassigned order. The
// primary status and its history are untouched; claiming only sets the
// delivery assignment.
func (r *OrderRepository) ClaimDelivery(ctx context.Context, orderID string, assignment domain.DeliveryAssignment) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(assignment.AssociateID) == "" {
		return domain.Order{}, errors.New("order repository: associate id is required")
	}

	var claimed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", id, err)
		}
		if doc.Delivery != nil && strings.TrimSpace(doc.Delivery.AssociateID) != "" {
			return status.Errorf(codes.FailedPrecondition, "order %s already has associate %s", id, doc.Delivery.AssociateID)
		}
		if !slices.Contains(claimableStatuses, doc.Status) {
			return status.Errorf(codes.FailedPrecondition, "order %s is %s and can no longer be claimed", id, doc.Status)
		}

		doc.Delivery = &deliveryAssignmentDocument{
			AssociateID: strings.TrimSpace(assignment.AssociateID),
			AssignedAt:  assignment.AssignedAt.UTC(),
			Status:      string(assignment.Status),
		}
		doc.HasAssociate = true
		doc.Version++
		doc.UpdatedAt = assignment.AssignedAt.UTC()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		claimed = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.claim", err)
	}
	return claimed, nil
}

// CountByStatus tallies one participant's orders grouped by status.
func (r *OrderRepository) CountByStatus(ctx context.Context, filter repositories.OrderCountFilter) (map[domain.OrderStatus]int64, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("orders.countByStatus", err)
	}

	base := client.Collection(ordersCollection).Query
	if cid := strings.TrimSpace(filter.CustomerID); cid != "" {
		base = base.Where("customerId", "==", cid)
	}
	if sid := strings.TrimSpace(filter.SupplierID); sid != "" {
		base = base.Where("supplierId", "==", sid)
	}

	counts := make(map[domain.OrderStatus]int64, len(domain.KnownOrderStatuses))
	for _, orderStatus := range domain.KnownOrderStatuses {
		statusQuery := base.Where("status", "==", string(orderStatus))
		aggregation := statusQuery.NewAggregationQuery().WithCount("total")
		results, err := aggregation.Get(ctx)
		if err != nil {
			return nil, pfirestore.WrapError("orders.countByStatus", err)
		}
		counts[orderStatus] = aggregationCount(results, "total")
	}
	return counts, nil
}

func (r *OrderRepository) page(ctx context.Context, query firestore.Query, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	pageSize := normalisePageSize(pager.PageSize)
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	orders, err := collectDocuments(ctx, query, decodeOrderSnapshot)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	return paginate(orders, pageSize)
}

func paginate(orders []domain.Order, pageSize int) (domain.CursorPage[domain.Order], error) {
	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		nextToken = encoded
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func aggregationCount(results firestore.AggregationResult, alias string) int64 {
	raw, ok := results[alias]
	if !ok {
		return 0
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok || value == nil {
		return 0
	}
	return value.GetIntegerValue()
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber           string                      `firestore:"orderNumber"`
	CustomerID            string                      `firestore:"customerId"`
	SupplierID            string                      `firestore:"supplierId"`
	Items                 []orderItemDocument         `firestore:"items"`
	Charges               orderChargesDocument        `firestore:"charges"`
	Currency              string                      `firestore:"currency"`
	Status                string                      `firestore:"status"`
	StatusHistory         []historyEntryDocument      `firestore:"statusHistory"`
	PaymentMethod         string                      `firestore:"paymentMethod"`
	PaymentStatus         string                      `firestore:"paymentStatus"`
	DeliveryKind          string                      `firestore:"deliveryKind"`
	DeliveryAddress       deliveryAddressDocument     `firestore:"deliveryAddress"`
	Delivery              *deliveryAssignmentDocument `firestore:"delivery,omitempty"`
	HasAssociate          bool                        `firestore:"hasAssociate"`
	CouponCode            string                      `firestore:"couponCode,omitempty"`
	Notes                 string                      `firestore:"notes,omitempty"`
	InvoiceURL            string                      `firestore:"invoiceUrl,omitempty"`
	InvoiceNumber         string                      `firestore:"invoiceNumber,omitempty"`
	EstimatedDeliveryDate time.Time                   `firestore:"estimatedDeliveryDate"`
	DeliveredAt           *time.Time                  `firestore:"deliveredAt,omitempty"`
	Version               int64                       `firestore:"version"`
	CreatedAt             time.Time                   `firestore:"createdAt"`
	UpdatedAt             time.Time                   `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID           string                  `firestore:"productId"`
	Name                string                  `firestore:"name"`
	Quantity            int                     `firestore:"quantity"`
	UnitPrice           int64                   `firestore:"unitPrice"`
	DiscountedUnitPrice int64                   `firestore:"discountedUnitPrice"`
	TotalPrice          int64                   `firestore:"totalPrice"`
	Variations          []itemVariationDocument `firestore:"variations,omitempty"`
}

type itemVariationDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
}

type orderChargesDocument struct {
	Subtotal       int64 `firestore:"subtotal"`
	DeliveryCharge int64 `firestore:"deliveryCharge"`
	Taxes          int64 `firestore:"taxes"`
	Discount       int64 `firestore:"discount"`
	Total          int64 `firestore:"total"`
}

type historyEntryDocument struct {
	Status        string    `firestore:"status"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
	UpdatedBy     string    `firestore:"updatedBy"`
	UpdatedByRole string    `firestore:"updatedByRole"`
	Note          string    `firestore:"note,omitempty"`
}

type deliveryAssignmentDocument struct {
	AssociateID string    `firestore:"associateId"`
	AssignedAt  time.Time `firestore:"assignedAt"`
	Status      string    `firestore:"status"`
}

type deliveryAddressDocument struct {
	Street     string            `firestore:"street"`
	City       string            `firestore:"city"`
	State      string            `firestore:"state"`
	PostalCode string            `firestore:"postalCode"`
	Country    string            `firestore:"country"`
	Phone      string            `firestore:"phone"`
	Location   *geoPointDocument `firestore:"location,omitempty"`
}

type geoPointDocument struct {
	Latitude  float64 `firestore:"latitude"`
	Longitude float64 `firestore:"longitude"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		variations := make([]itemVariationDocument, len(item.Variations))
		for j, variation := range item.Variations {
			variations[j] = itemVariationDocument{Name: variation.Name, Value: variation.Value}
		}
		items[i] = orderItemDocument{
			ProductID:           strings.TrimSpace(item.ProductID),
			Name:                strings.TrimSpace(item.Name),
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			DiscountedUnitPrice: item.DiscountedUnitPrice,
			TotalPrice:          item.TotalPrice,
			Variations:          variations,
		}
	}

	history := make([]historyEntryDocument, len(order.StatusHistory))
	for i, entry := range order.StatusHistory {
		history[i] = newHistoryEntryDocument(entry)
	}

	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CustomerID:  strings.TrimSpace(order.CustomerID),
		SupplierID:  strings.TrimSpace(order.SupplierID),
		Items:       items,
		Charges: orderChargesDocument{
			Subtotal:       order.Charges.Subtotal,
			DeliveryCharge: order.Charges.DeliveryCharge,
			Taxes:          order.Charges.Taxes,
			Discount:       order.Charges.Discount,
			Total:          order.Charges.Total,
		},
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Status:        string(order.Status),
		StatusHistory: history,
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		DeliveryKind:  string(order.DeliveryKind),
		DeliveryAddress: deliveryAddressDocument{
			Street:     strings.TrimSpace(order.DeliveryAddress.Street),
			City:       strings.TrimSpace(order.DeliveryAddress.City),
			State:      strings.TrimSpace(order.DeliveryAddress.State),
			PostalCode: strings.TrimSpace(order.DeliveryAddress.PostalCode),
			Country:    strings.TrimSpace(order.DeliveryAddress.Country),
			Phone:      strings.TrimSpace(order.DeliveryAddress.Phone),
		},
		CouponCode:            strings.TrimSpace(order.CouponCode),
		Notes:                 strings.TrimSpace(order.Notes),
		InvoiceURL:            strings.TrimSpace(order.InvoiceURL),
		InvoiceNumber:         strings.TrimSpace(order.InvoiceNumber),
		EstimatedDeliveryDate: order.EstimatedDeliveryDate.UTC(),
		DeliveredAt:           order.DeliveredAt,
		Version:               order.Version,
		CreatedAt:             order.CreatedAt.UTC(),
		UpdatedAt:             order.UpdatedAt.UTC(),
	}

	if order.DeliveryAddress.Location != nil {
		doc.DeliveryAddress.Location = &geoPointDocument{
			Latitude:  order.DeliveryAddress.Location.Latitude,
			Longitude: order.DeliveryAddress.Location.Longitude,
		}
	}
	if order.Delivery != nil {
		doc.Delivery = &deliveryAssignmentDocument{
			AssociateID: strings.TrimSpace(order.Delivery.AssociateID),
			AssignedAt:  order.Delivery.AssignedAt.UTC(),
			Status:      string(order.Delivery.Status),
		}
		doc.HasAssociate = strings.TrimSpace(order.Delivery.AssociateID) != ""
	}
	return doc
}

func newHistoryEntryDocument(entry domain.StatusHistoryEntry) historyEntryDocument {
	return historyEntryDocument{
		Status:        string(entry.Status),
		UpdatedAt:     entry.UpdatedAt.UTC(),
		UpdatedBy:     strings.TrimSpace(entry.UpdatedBy),
		UpdatedByRole: string(entry.UpdatedByRole),
		Note:          strings.TrimSpace(entry.Note),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		variations := make([]domain.ItemVariation, len(item.Variations))
		for j, variation := range item.Variations {
			variations[j] = domain.ItemVariation{Name: variation.Name, Value: variation.Value}
		}
		items[i] = domain.OrderItem{
			ProductID:           item.ProductID,
			Name:                item.Name,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			DiscountedUnitPrice: item.DiscountedUnitPrice,
			TotalPrice:          item.TotalPrice,
			Variations:          variations,
		}
	}

	history := make([]domain.StatusHistoryEntry, len(d.StatusHistory))
	for i, entry := range d.StatusHistory {
		history[i] = domain.StatusHistoryEntry{
			Status:        domain.OrderStatus(entry.Status),
			UpdatedAt:     entry.UpdatedAt,
			UpdatedBy:     entry.UpdatedBy,
			UpdatedByRole: domain.ActorRole(entry.UpdatedByRole),
			Note:          entry.Note,
		}
	}

	order := domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		CustomerID:    d.CustomerID,
		SupplierID:    d.SupplierID,
		Items:         items,
		Charges:       domain.OrderCharges(d.Charges),
		Currency:      d.Currency,
		Status:        domain.OrderStatus(d.Status),
		StatusHistory: history,
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		DeliveryKind:  domain.DeliveryKind(d.DeliveryKind),
		DeliveryAddress: domain.DeliveryAddress{
			Street:     d.DeliveryAddress.Street,
			City:       d.DeliveryAddress.City,
			State:      d.DeliveryAddress.State,
			PostalCode: d.DeliveryAddress.PostalCode,
			Country:    d.DeliveryAddress.Country,
			Phone:      d.DeliveryAddress.Phone,
		},
		CouponCode:            d.CouponCode,
		Notes:                 d.Notes,
		InvoiceURL:            d.InvoiceURL,
		InvoiceNumber:         d.InvoiceNumber,
		EstimatedDeliveryDate: d.EstimatedDeliveryDate,
		DeliveredAt:           d.DeliveredAt,
		Version:               d.Version,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}

	if d.DeliveryAddress.Location != nil {
		order.DeliveryAddress.Location = &domain.GeoPoint{
			Latitude:  d.DeliveryAddress.Location.Latitude,
			Longitude: d.DeliveryAddress.Location.Longitude,
		}
	}
	if d.Delivery != nil {
		order.Delivery = &domain.DeliveryAssignment{
			AssociateID: d.Delivery.AssociateID,
			AssignedAt:  d.Delivery.AssignedAt,
			Status:      domain.DeliveryStatus(d.Delivery.Status),
		}
	}
	return order
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
