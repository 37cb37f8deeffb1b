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

type replaceCartRequest struct {
	Items []cartItemRequest `json:"items"`
}

type cartResponse struct {
	CustomerID string            `json:"customer_id"`
	Items      []cartItemPayload `json:"items"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ProductID  string                 `json:"product_id"`
	Quantity   int                    `json:"quantity"`
	Variations []itemVariationPayload `json:"variations,omitempty"`
}

// CartHandlers exposes the customer cart endpoints.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs a new CartHandlers instance.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Put("/", h.replaceCart)
	r.Delete("/", h.clearCart)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.Get(ctx, actor.ID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) replaceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req replaceCartRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	items := make([]domain.CartItem, 0, len(req.Items))
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
		items = append(items, line)
	}

	cart, err := h.carts.ReplaceItems(ctx, services.ReplaceCartCommand{
		CustomerID: actor.ID,
		Items:      items,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, actor.ID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildCartResponse(cart services.Cart) cartResponse {
	payload := cartResponse{
		CustomerID: cart.CustomerID,
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		entry := cartItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
		for _, variation := range item.Variations {
			entry.Variations = append(entry.Variations, itemVariationPayload{
				Name:  variation.Name,
				Value: variation.Value,
			})
		}
		payload.Items = append(payload.Items, entry)
	}
	return payload
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
