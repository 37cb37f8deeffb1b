package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/platform/httpx"
	"github.com/freshmart/api/internal/services"
)

type placeOrderRequest struct {
	Items           []cartItemRequest `json:"items"`
	FromCart        bool              `json:"from_cart"`
	PaymentMethod   string            `json:"payment_method"`
	DeliveryKind    string            `json:"delivery_kind"`
	DeliveryAddress addressRequest    `json:"delivery_address"`
	CouponCode      string            `json:"coupon_code"`
	Notes           string            `json:"notes"`
}

type cartItemRequest struct {
	ProductID  string                 `json:"product_id"`
	Quantity   int                    `json:"quantity"`
	Variations []itemVariationPayload `json:"variations"`
}

type addressRequest struct {
	Street     string           `json:"street"`
	City       string           `json:"city"`
	State      string           `json:"state"`
	PostalCode string           `json:"postal_code"`
	Country    string           `json:"country"`
	Phone      string           `json:"phone"`
	Location   *geoPointPayload `json:"location"`
}

type placeOrderResponse struct {
	Orders []orderPayload `json:"orders"`
}

// placeOrder runs checkout. The cart may contain products from several
// suppliers; one order per supplier comes back.
func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != domain.RoleCustomer {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_forbidden", "only customers may place orders", http.StatusForbidden))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, retry later", http.StatusTooManyRequests))
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	cmd := services.PlaceOrderCommand{
		CustomerID:    actor.ID,
		FromCart:      req.FromCart,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		DeliveryKind:  domain.DeliveryKind(strings.ToLower(strings.TrimSpace(req.DeliveryKind))),
		DeliveryAddress: domain.DeliveryAddress{
			Street:     strings.TrimSpace(req.DeliveryAddress.Street),
			City:       strings.TrimSpace(req.DeliveryAddress.City),
			State:      strings.TrimSpace(req.DeliveryAddress.State),
			PostalCode: strings.TrimSpace(req.DeliveryAddress.PostalCode),
			Country:    strings.TrimSpace(req.DeliveryAddress.Country),
			Phone:      strings.TrimSpace(req.DeliveryAddress.Phone),
		},
		CouponCode: strings.TrimSpace(req.CouponCode),
		Notes:      strings.TrimSpace(req.Notes),
	}
	if req.DeliveryAddress.Location != nil {
		cmd.DeliveryAddress.Location = &domain.GeoPoint{
			Latitude:  req.DeliveryAddress.Location.Latitude,
			Longitude: req.DeliveryAddress.Location.Longitude,
		}
	}
	for _, item := range req.Items {
		line := domain.CartItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		}
		for _, variation := range item.Variations {
			line.Variations = append(line.Variations, domain.ItemVariation{
				Name:  strings.TrimSpace(variation.Name),
				Value: strings.TrimSpace(variation.Value),
			})
		}
		cmd.Items = append(cmd.Items, line)
	}

	orders, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	payload := placeOrderResponse{Orders: make([]orderPayload, 0, len(orders))}
	for _, order := range orders {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusCreated, payload)
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to place order", http.StatusInternalServerError))
	}
}
