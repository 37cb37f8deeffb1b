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

type upsertProductRequest struct {
	ID              string                    `json:"id"`
	SupplierID      string                    `json:"supplier_id"`
	Name            string                    `json:"name"`
	Price           int64                     `json:"price"`
	DiscountedPrice int64                     `json:"discounted_price"`
	Currency        string                    `json:"currency"`
	Stock           int                       `json:"stock"`
	Active          *bool                     `json:"active"`
	Variations      []productVariationPayload `json:"variations"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productPayload struct {
	ID              string                    `json:"id"`
	SupplierID      string                    `json:"supplier_id"`
	Name            string                    `json:"name"`
	Price           int64                     `json:"price"`
	DiscountedPrice int64                     `json:"discounted_price,omitempty"`
	Currency        string                    `json:"currency,omitempty"`
	Stock           int                       `json:"stock"`
	Active          bool                      `json:"active"`
	Variations      []productVariationPayload `json:"variations,omitempty"`
	CreatedAt       string                    `json:"created_at,omitempty"`
	UpdatedAt       string                    `json:"updated_at,omitempty"`
}

type productVariationPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Price int64  `json:"price,omitempty"`
	Stock int    `json:"stock"`
}

// ProductHandlers exposes the supplier-facing catalog endpoints.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{authn: authn, catalog: catalog}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.upsertProduct)
	r.Get("/{productID}", h.getProduct)
	r.Put("/{productID}", h.upsertProduct)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
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

	supplierID := strings.TrimSpace(r.URL.Query().Get("supplier_id"))
	page, err := h.catalog.ListSupplierProducts(ctx, actor, supplierID, pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req upsertProductRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	product := domain.Product{
		ID:              strings.TrimSpace(req.ID),
		SupplierID:      strings.TrimSpace(req.SupplierID),
		Name:            strings.TrimSpace(req.Name),
		Price:           req.Price,
		DiscountedPrice: req.DiscountedPrice,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Stock:           req.Stock,
		Active:          true,
	}
	if pathID := strings.TrimSpace(chi.URLParam(r, "productID")); pathID != "" {
		product.ID = pathID
	}
	if req.Active != nil {
		product.Active = *req.Active
	}
	for _, variation := range req.Variations {
		product.Variations = append(product.Variations, domain.ProductVariation{
			Name:  strings.TrimSpace(variation.Name),
			Value: strings.TrimSpace(variation.Value),
			Price: variation.Price,
			Stock: variation.Stock,
		})
	}

	stored, err := h.catalog.UpsertProduct(ctx, services.UpsertProductCommand{
		Actor:   actor,
		Product: product,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(stored)})
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:              product.ID,
		SupplierID:      product.SupplierID,
		Name:            product.Name,
		Price:           product.Price,
		DiscountedPrice: product.DiscountedPrice,
		Currency:        strings.ToUpper(strings.TrimSpace(product.Currency)),
		Stock:           product.Stock,
		Active:          product.Active,
		CreatedAt:       formatTime(product.CreatedAt),
		UpdatedAt:       formatTime(product.UpdatedAt),
	}
	for _, variation := range product.Variations {
		payload.Variations = append(payload.Variations, productVariationPayload{
			Name:  variation.Name,
			Value: variation.Value,
			Price: variation.Price,
			Stock: variation.Stock,
		})
	}
	return payload
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_forbidden", err.Error(), http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
