package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freshmart/api/internal/repositories"
)

var (
	// ErrCartInvalidInput signals the caller provided invalid cart data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
)

type cartService struct {
	carts   repositories.CartRepository
	catalog repositories.CatalogRepository
}

// NewCartService wires repositories into a CartService implementation.
func NewCartService(carts repositories.CartRepository, catalog repositories.CatalogRepository) (CartService, error) {
	if carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}
	return &cartService{carts: carts, catalog: catalog}, nil
}

// Get returns the customer's cart. A customer without one gets an empty cart.
func (s *cartService) Get(ctx context.Context, customerID string) (Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Cart{ID: customerID, CustomerID: customerID}, nil
		}
		return Cart{}, err
	}
	return cart, nil
}

// ReplaceItems validates every line against the catalog before storing.
func (s *cartService) ReplaceItems(ctx context.Context, cmd ReplaceCartCommand) (Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	ids := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return Cart{}, fmt.Errorf("%w: item product id is required", ErrCartInvalidInput)
		}
		if item.Quantity <= 0 {
			return Cart{}, fmt.Errorf("%w: item %s quantity must be positive", ErrCartInvalidInput, item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	if len(ids) > 0 {
		products, err := s.catalog.FindProducts(ctx, ids)
		if err != nil {
			return Cart{}, err
		}
		for _, item := range cmd.Items {
			product, ok := products[item.ProductID]
			if !ok {
				return Cart{}, fmt.Errorf("%w: product %s not found", ErrCartInvalidInput, item.ProductID)
			}
			for _, requested := range item.Variations {
				if product.Variation(requested.Name, requested.Value) == nil {
					return Cart{}, fmt.Errorf("%w: product %s has no variation %s=%s",
						ErrCartInvalidInput, item.ProductID, requested.Name, requested.Value)
				}
			}
		}
	}

	return s.carts.ReplaceItems(ctx, customerID, cmd.Items)
}

func (s *cartService) Clear(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	return s.carts.Clear(ctx, customerID)
}
