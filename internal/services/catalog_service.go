package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

const productIDPrefix = "prd_"

var (
	// ErrCatalogInvalidInput signals the caller provided invalid product data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogForbidden indicates the actor may not manage the product.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	catalog repositories.CatalogRepository
	clock   func() time.Time
	newID   func() string
}

// NewCatalogService wires dependencies into a CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &catalogService{
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		return Product{}, s.mapError(err)
	}
	return product, nil
}

func (s *catalogService) ListSupplierProducts(ctx context.Context, actor Actor, supplierID string, pager Pagination) (domain.CursorPage[Product], error) {
	supplierID = strings.TrimSpace(supplierID)
	if supplierID == "" {
		supplierID = actor.ID
	}
	if actor.Role == domain.RoleSupplier && supplierID != actor.ID {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: suppliers may only list their own products", ErrCatalogForbidden)
	}

	page, err := s.catalog.ListBySupplier(ctx, supplierID, pager)
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapError(err)
	}
	return page, nil
}

func (s *catalogService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if cmd.Actor.Role != domain.RoleSupplier && cmd.Actor.Role != domain.RoleAdmin {
		return Product{}, fmt.Errorf("%w: role %s may not manage products", ErrCatalogForbidden, cmd.Actor.Role)
	}

	product := cmd.Product
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if product.Price < 0 {
		return Product{}, fmt.Errorf("%w: product price must not be negative", ErrCatalogInvalidInput)
	}
	if product.DiscountedPrice < 0 {
		return Product{}, fmt.Errorf("%w: product discounted price must not be negative", ErrCatalogInvalidInput)
	}
	if product.DiscountedPrice > product.Price {
		return Product{}, fmt.Errorf("%w: product discounted price must not exceed the price", ErrCatalogInvalidInput)
	}
	if product.Stock < 0 {
		return Product{}, fmt.Errorf("%w: product stock must not be negative", ErrCatalogInvalidInput)
	}
	for _, variation := range product.Variations {
		if strings.TrimSpace(variation.Name) == "" || strings.TrimSpace(variation.Value) == "" {
			return Product{}, fmt.Errorf("%w: variation name and value are required", ErrCatalogInvalidInput)
		}
		if variation.Stock < 0 {
			return Product{}, fmt.Errorf("%w: variation %s=%s stock must not be negative", ErrCatalogInvalidInput, variation.Name, variation.Value)
		}
	}

	if cmd.Actor.Role == domain.RoleSupplier {
		if product.SupplierID != "" && product.SupplierID != cmd.Actor.ID {
			return Product{}, fmt.Errorf("%w: suppliers may only manage their own products", ErrCatalogForbidden)
		}
		product.SupplierID = cmd.Actor.ID
	}
	if strings.TrimSpace(product.SupplierID) == "" {
		return Product{}, fmt.Errorf("%w: supplier id is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	if strings.TrimSpace(product.ID) == "" {
		product.ID = productIDPrefix + s.newID()
		product.CreatedAt = now
	} else if existing, err := s.catalog.FindProduct(ctx, product.ID); err == nil {
		if cmd.Actor.Role == domain.RoleSupplier && existing.SupplierID != cmd.Actor.ID {
			return Product{}, fmt.Errorf("%w: suppliers may only manage their own products", ErrCatalogForbidden)
		}
		product.CreatedAt = existing.CreatedAt
	} else {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	stored, err := s.catalog.UpsertProduct(ctx, product)
	if err != nil {
		return Product{}, s.mapError(err)
	}
	return stored, nil
}

func (s *catalogService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}
