package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/platform/auth"
	"github.com/freshmart/api/internal/platform/httpx"
	"github.com/freshmart/api/internal/services"
)

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// OrderHandlers exposes the order lifecycle endpoints: checkout, listings,
// status transitions, delivery actions, and invoices.
type OrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService
	delivery services.DeliveryService
	invoices services.InvoiceService
	limiter  RateLimiter
}

// OrderHandlersDeps bundles the collaborators for OrderHandlers.
type OrderHandlersDeps struct {
	Authenticator *auth.Authenticator
	Checkout      services.CheckoutService
	Orders        services.OrderService
	Delivery      services.DeliveryService
	Invoices      services.InvoiceService
	// CheckoutLimiter throttles order placement per customer. Optional.
	CheckoutLimiter RateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(deps OrderHandlersDeps) *OrderHandlers {
	return &OrderHandlers{
		authn:    deps.Authenticator,
		checkout: deps.Checkout,
		orders:   deps.Orders,
		delivery: deps.Delivery,
		invoices: deps.Invoices,
		limiter:  deps.CheckoutLimiter,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/mine", h.listMyOrders)
	r.Get("/supplier", h.listSupplierOrders)
	r.Get("/supplier/status-counts", h.statusCounts)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/status", h.updateStatus)
	r.Put("/{orderID}/assign", h.assignDelivery)
	r.Put("/{orderID}/claim", h.claimDelivery)
	r.Put("/{orderID}/delivery-status", h.updateDeliveryStatus)
	r.Post("/{orderID}/invoice", h.generateInvoice)
	r.Get("/{orderID}/invoice", h.getInvoice)
}

// listOrders is the admin view over every order in the system.
func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter, ok := h.parseListFilter(w, r)
	if !ok {
		return
	}
	filter.CustomerID = strings.TrimSpace(r.URL.Query().Get("customer_id"))
	filter.SupplierID = strings.TrimSpace(r.URL.Query().Get("supplier_id"))

	page, err := h.orders.List(ctx, actor, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderPage(w, page)
}

// listMyOrders scopes the listing to the caller: customers see their
// purchases, suppliers their incoming orders, associates their assignments.
func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	h.listScoped(w, r)
}

// listSupplierOrders is an alias route kept for supplier dashboards.
func (h *OrderHandlers) listSupplierOrders(w http.ResponseWriter, r *http.Request) {
	h.listScoped(w, r)
}

func (h *OrderHandlers) listScoped(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter, ok := h.parseListFilter(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListMine(ctx, actor, services.MyOrdersFilter{
		Status:     filter.Status,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderPage(w, page)
}

func (h *OrderHandlers) statusCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	counts, err := h.orders.StatusCounts(ctx, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := make(map[string]int64, len(counts))
	for status, count := range counts {
		payload[string(status)] = count
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"counts": payload})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, actor, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Transition(ctx, services.TransitionCommand{
		OrderID: orderID,
		Actor:   actor,
		Target:  target,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) parseListFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	ctx := r.Context()

	statuses, err := parseStatusFilters(r.URL.Query()["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}

	dateRange, hasRange, err := parseDateRange(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}

	filter := services.OrderListFilter{
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  pager.PageSize,
			PageToken: pager.PageToken,
		},
	}
	if hasRange {
		filter.DateRange = dateRange
	}
	return filter, true
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                    string                `json:"id"`
	OrderNumber           string                `json:"order_number"`
	CustomerID            string                `json:"customer_id"`
	SupplierID            string                `json:"supplier_id"`
	Status                string                `json:"status"`
	Currency              string                `json:"currency"`
	Items                 []orderItemPayload    `json:"items"`
	Charges               orderChargesPayload   `json:"charges"`
	PaymentMethod         string                `json:"payment_method"`
	PaymentStatus         string                `json:"payment_status"`
	DeliveryKind          string                `json:"delivery_kind"`
	DeliveryAddress       addressPayload        `json:"delivery_address"`
	Delivery              *deliveryPayload      `json:"delivery,omitempty"`
	StatusHistory         []historyEntryPayload `json:"status_history"`
	CouponCode            string                `json:"coupon_code,omitempty"`
	Notes                 string                `json:"notes,omitempty"`
	InvoiceURL            string                `json:"invoice_url,omitempty"`
	InvoiceNumber         string                `json:"invoice_number,omitempty"`
	EstimatedDeliveryDate string                `json:"estimated_delivery_date,omitempty"`
	DeliveredAt           string                `json:"delivered_at,omitempty"`
	Version               int64                 `json:"version"`
	CreatedAt             string                `json:"created_at"`
	UpdatedAt             string                `json:"updated_at,omitempty"`
}

type orderChargesPayload struct {
	Subtotal       int64 `json:"subtotal"`
	DeliveryCharge int64 `json:"delivery_charge"`
	Taxes          int64 `json:"taxes"`
	Discount       int64 `json:"discount"`
	Total          int64 `json:"total"`
}

type orderItemPayload struct {
	ProductID           string                 `json:"product_id"`
	Name                string                 `json:"name,omitempty"`
	Quantity            int                    `json:"quantity"`
	UnitPrice           int64                  `json:"unit_price"`
	DiscountedUnitPrice int64                  `json:"discounted_unit_price"`
	TotalPrice          int64                  `json:"total_price"`
	Variations          []itemVariationPayload `json:"variations,omitempty"`
}

type itemVariationPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type addressPayload struct {
	Street     string           `json:"street"`
	City       string           `json:"city"`
	State      string           `json:"state,omitempty"`
	PostalCode string           `json:"postal_code"`
	Country    string           `json:"country,omitempty"`
	Phone      string           `json:"phone"`
	Location   *geoPointPayload `json:"location,omitempty"`
}

type geoPointPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type deliveryPayload struct {
	AssociateID string `json:"associate_id"`
	AssignedAt  string `json:"assigned_at"`
	Status      string `json:"status"`
}

type historyEntryPayload struct {
	Status        string `json:"status"`
	UpdatedAt     string `json:"updated_at"`
	UpdatedBy     string `json:"updated_by"`
	UpdatedByRole string `json:"updated_by_role"`
	Note          string `json:"note,omitempty"`
}

func writeOrderPage(w http.ResponseWriter, page domain.CursorPage[services.Order]) {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CustomerID:  strings.TrimSpace(order.CustomerID),
		SupplierID:  strings.TrimSpace(order.SupplierID),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Charges: orderChargesPayload{
			Subtotal:       order.Charges.Subtotal,
			DeliveryCharge: order.Charges.DeliveryCharge,
			Taxes:          order.Charges.Taxes,
			Discount:       order.Charges.Discount,
			Total:          order.Charges.Total,
		},
		PaymentMethod:         string(order.PaymentMethod),
		PaymentStatus:         string(order.PaymentStatus),
		DeliveryKind:          string(order.DeliveryKind),
		DeliveryAddress:       buildAddressPayload(order.DeliveryAddress),
		StatusHistory:         make([]historyEntryPayload, 0, len(order.StatusHistory)),
		CouponCode:            strings.TrimSpace(order.CouponCode),
		Notes:                 strings.TrimSpace(order.Notes),
		InvoiceURL:            strings.TrimSpace(order.InvoiceURL),
		InvoiceNumber:         strings.TrimSpace(order.InvoiceNumber),
		EstimatedDeliveryDate: formatTime(order.EstimatedDeliveryDate),
		DeliveredAt:           formatTime(pointerTime(order.DeliveredAt)),
		Version:               order.Version,
		CreatedAt:             formatTime(order.CreatedAt),
		UpdatedAt:             formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		entry := orderItemPayload{
			ProductID:           strings.TrimSpace(item.ProductID),
			Name:                strings.TrimSpace(item.Name),
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			DiscountedUnitPrice: item.DiscountedUnitPrice,
			TotalPrice:          item.TotalPrice,
		}
		for _, variation := range item.Variations {
			entry.Variations = append(entry.Variations, itemVariationPayload{
				Name:  variation.Name,
				Value: variation.Value,
			})
		}
		payload.Items = append(payload.Items, entry)
	}

	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, historyEntryPayload{
			Status:        string(entry.Status),
			UpdatedAt:     formatTime(entry.UpdatedAt),
			UpdatedBy:     entry.UpdatedBy,
			UpdatedByRole: string(entry.UpdatedByRole),
			Note:          entry.Note,
		})
	}

	if order.Delivery != nil {
		payload.Delivery = &deliveryPayload{
			AssociateID: order.Delivery.AssociateID,
			AssignedAt:  formatTime(order.Delivery.AssignedAt),
			Status:      string(order.Delivery.Status),
		}
	}

	return payload
}

func buildAddressPayload(addr services.DeliveryAddress) addressPayload {
	payload := addressPayload{
		Street:     strings.TrimSpace(addr.Street),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      strings.TrimSpace(addr.Phone),
	}
	if addr.Location != nil {
		payload.Location = &geoPointPayload{
			Latitude:  addr.Location.Latitude,
			Longitude: addr.Location.Longitude,
		}
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrDeliveryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidTransition),
		errors.Is(err, services.ErrDeliveryInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvoiceNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_eligible", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
