package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/freshmart/api/internal/domain"
)

func newCartForTest(t *testing.T, carts *stubCartRepo, catalog *stubCatalogRepo) CartService {
	t.Helper()
	if carts == nil {
		carts = &stubCartRepo{}
	}
	if catalog == nil {
		catalog = &stubCatalogRepo{}
	}
	svc, err := NewCartService(carts, catalog)
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestGetReturnsEmptyCartForNewCustomer(t *testing.T) {
	svc := newCartForTest(t, nil, nil)

	cart, err := svc.Get(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cart.CustomerID != "cus_1" || len(cart.Items) != 0 {
		t.Fatalf("expected empty cart for cus_1, got %+v", cart)
	}
}

func TestReplaceItemsValidatesAgainstCatalog(t *testing.T) {
	svc := newCartForTest(t, nil, &stubCatalogRepo{
		findManyFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prd_a": {
					ID:     "prd_a",
					Active: true,
					Variations: []domain.ProductVariation{
						{Name: "size", Value: "1kg", Stock: 5},
					},
				},
			}, nil
		},
	})

	cart, err := svc.ReplaceItems(context.Background(), ReplaceCartCommand{
		CustomerID: "cus_1",
		Items: []CartItem{
			{ProductID: "prd_a", Quantity: 2, Variations: []domain.ItemVariation{{Name: "size", Value: "1kg"}}},
		},
	})
	if err != nil {
		t.Fatalf("ReplaceItems: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prd_a" {
		t.Fatalf("unexpected cart %+v", cart)
	}

	_, err = svc.ReplaceItems(context.Background(), ReplaceCartCommand{
		CustomerID: "cus_1",
		Items: []CartItem{
			{ProductID: "prd_a", Quantity: 1, Variations: []domain.ItemVariation{{Name: "size", Value: "5kg"}}},
		},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for unknown variation, got %v", err)
	}

	_, err = svc.ReplaceItems(context.Background(), ReplaceCartCommand{
		CustomerID: "cus_1",
		Items:      []CartItem{{ProductID: "prd_missing", Quantity: 1}},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for unknown product, got %v", err)
	}
}

func TestReplaceItemsRejectsBadQuantities(t *testing.T) {
	svc := newCartForTest(t, nil, nil)

	_, err := svc.ReplaceItems(context.Background(), ReplaceCartCommand{
		CustomerID: "cus_1",
		Items:      []CartItem{{ProductID: "prd_a", Quantity: 0}},
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestClearRequiresCustomerID(t *testing.T) {
	cleared := false
	svc := newCartForTest(t, &stubCartRepo{
		clearFn: func(_ context.Context, customerID string) error {
			cleared = customerID == "cus_1"
			return nil
		},
	}, nil)

	if err := svc.Clear(context.Background(), "  "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
	if err := svc.Clear(context.Background(), "cus_1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !cleared {
		t.Fatal("expected repository clear for cus_1")
	}
}
