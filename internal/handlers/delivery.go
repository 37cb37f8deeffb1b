package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/platform/auth"
	"github.com/freshmart/api/internal/platform/httpx"
	"github.com/freshmart/api/internal/services"
)

type assignDeliveryRequest struct {
	AssociateID string `json:"associate_id"`
}

type deliveryStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// assignDelivery lets an admin or the supplier hand the order to a chosen associate.
func (h *OrderHandlers) assignDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
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

	var req assignDeliveryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	order, err := h.delivery.Assign(ctx, services.AssignDeliveryCommand{
		OrderID:     orderID,
		Actor:       actor,
		AssociateID: strings.TrimSpace(req.AssociateID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// claimDelivery lets an associate grab an unassigned order. First claim wins.
func (h *OrderHandlers) claimDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.delivery.SelfAssign(ctx, services.SelfAssignCommand{
		OrderID: orderID,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
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

	var req deliveryStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	target := domain.DeliveryStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid delivery status", http.StatusBadRequest))
		return
	}

	order, err := h.delivery.UpdateDeliveryStatus(ctx, services.DeliveryStatusCommand{
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

// DeliveryHandlers exposes the associate-facing browse endpoints.
type DeliveryHandlers struct {
	authn    *auth.Authenticator
	delivery services.DeliveryService
}

// NewDeliveryHandlers constructs a new DeliveryHandlers instance.
func NewDeliveryHandlers(authn *auth.Authenticator, delivery services.DeliveryService) *DeliveryHandlers {
	return &DeliveryHandlers{authn: authn, delivery: delivery}
}

// Routes registers the /delivery endpoints.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleDeliveryAssociate, auth.RoleAdmin))
	}
	r.Get("/available", h.listAvailable)
	r.Get("/available/nearby", h.listAvailableNearby)
}

func (h *DeliveryHandlers) listAvailable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.delivery.ListAvailable(ctx, actor, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderPage(w, page)
}

func (h *DeliveryHandlers) listAvailableNearby(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	lat, err := strconv.ParseFloat(strings.TrimSpace(query.Get("lat")), 64)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "lat must be a number", http.StatusBadRequest))
		return
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(query.Get("lng")), 64)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "lng must be a number", http.StatusBadRequest))
		return
	}

	var maxDistance float64
	if raw := strings.TrimSpace(query.Get("max_distance")); raw != "" {
		maxDistance, err = strconv.ParseFloat(raw, 64)
		if err != nil || maxDistance < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "max_distance must be a non-negative number", http.StatusBadRequest))
			return
		}
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	orders, err := h.delivery.ListAvailableNearby(ctx, actor, services.NearbyQuery{
		Location:      services.GeoPoint{Latitude: lat, Longitude: lng},
		MaxDistanceKM: maxDistance,
		Pagination:    pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}
