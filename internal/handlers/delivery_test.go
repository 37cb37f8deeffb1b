package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/platform/auth"
	"github.com/freshmart/api/internal/services"
)

func newDeliveryRouter(service services.DeliveryService) chi.Router {
	handler := NewDeliveryHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/delivery", handler.Routes)
	return router
}

func TestDeliveryHandlersAssignForwardsAssociate(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	var capturedCmd services.AssignDeliveryCommand

	service := &stubDeliveryService{
		assignFn: func(_ context.Context, cmd services.AssignDeliveryCommand) (services.Order, error) {
			capturedCmd = cmd
			order := sampleOrder(now)
			order.Delivery = &domain.DeliveryAssignment{
				AssociateID: cmd.AssociateID,
				AssignedAt:  now,
				Status:      domain.DeliveryStatusAssigned,
			}
			return order, nil
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Delivery: service})
	body := bytes.NewBufferString(`{"associate_id":"del_1"}`)
	req := httptest.NewRequest(http.MethodPut, "/orders/ord_01/assign", body)
	req = withRoles(req, "adm_1", auth.RoleAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.OrderID != "ord_01" || capturedCmd.AssociateID != "del_1" {
		t.Fatalf("unexpected command %+v", capturedCmd)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Delivery == nil || resp.Order.Delivery.Status != "assigned" {
		t.Fatalf("unexpected delivery %+v", resp.Order.Delivery)
	}
}

func TestDeliveryHandlersClaimConflictWhenAlreadyTaken(t *testing.T) {
	service := &stubDeliveryService{
		selfAssignFn: func(context.Context, services.SelfAssignCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderConflict
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Delivery: service})
	req := httptest.NewRequest(http.MethodPut, "/orders/ord_01/claim", nil)
	req = withRoles(req, "del_1", auth.RoleDeliveryAssociate)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestDeliveryHandlersUpdateStatusValidatesTarget(t *testing.T) {
	router := newOrderRouter(OrderHandlersDeps{Delivery: &stubDeliveryService{}})

	body := bytes.NewBufferString(`{"status":"lost_in_space"}`)
	req := httptest.NewRequest(http.MethodPut, "/orders/ord_01/delivery-status", body)
	req = withRoles(req, "del_1", auth.RoleDeliveryAssociate)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestDeliveryHandlersUpdateStatusForwardsCommand(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	var capturedCmd services.DeliveryStatusCommand

	service := &stubDeliveryService{
		updateFn: func(_ context.Context, cmd services.DeliveryStatusCommand) (services.Order, error) {
			capturedCmd = cmd
			return sampleOrder(now), nil
		},
	}

	router := newOrderRouter(OrderHandlersDeps{Delivery: service})
	body := bytes.NewBufferString(`{"status":"picked_up","note":"left warehouse"}`)
	req := httptest.NewRequest(http.MethodPut, "/orders/ord_01/delivery-status", body)
	req = withRoles(req, "del_1", auth.RoleDeliveryAssociate)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedCmd.Target != domain.DeliveryStatusPickedUp || capturedCmd.Note != "left warehouse" {
		t.Fatalf("unexpected command %+v", capturedCmd)
	}
}

func TestDeliveryHandlersListAvailable(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	service := &stubDeliveryService{
		listFn: func(_ context.Context, actor services.Actor, pager services.Pagination) (domain.CursorPage[services.Order], error) {
			if actor.Role != domain.RoleDeliveryAssociate {
				t.Fatalf("expected associate actor, got %s", actor.Role)
			}
			if pager.PageSize != 5 {
				t.Fatalf("expected page size 5, got %d", pager.PageSize)
			}
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder(now)}}, nil
		},
	}

	router := newDeliveryRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/delivery/available?page_size=5", nil)
	req = withRoles(req, "del_1", auth.RoleDeliveryAssociate)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Items))
	}
}

func TestDeliveryHandlersNearbyParsesCoordinates(t *testing.T) {
	var capturedQuery services.NearbyQuery
	service := &stubDeliveryService{
		nearbyFn: func(_ context.Context, _ services.Actor, query services.NearbyQuery) ([]services.Order, error) {
			capturedQuery = query
			return nil, nil
		},
	}

	router := newDeliveryRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/delivery/available/nearby?lat=18.5204&lng=73.8567&max_distance=15", nil)
	req = withRoles(req, "del_1", auth.RoleDeliveryAssociate)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedQuery.Location.Latitude != 18.5204 || capturedQuery.Location.Longitude != 73.8567 {
		t.Fatalf("unexpected location %+v", capturedQuery.Location)
	}
	if capturedQuery.MaxDistanceKM != 15 {
		t.Fatalf("expected max distance 15, got %v", capturedQuery.MaxDistanceKM)
	}
}

func TestDeliveryHandlersNearbyRejectsBadCoordinates(t *testing.T) {
	router := newDeliveryRouter(&stubDeliveryService{})

	req := httptest.NewRequest(http.MethodGet, "/delivery/available/nearby?lat=abc&lng=73.8567", nil)
	req = withRoles(req, "del_1", auth.RoleDeliveryAssociate)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
