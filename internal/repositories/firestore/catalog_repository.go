package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/freshmart/api/internal/domain"
	pfirestore "github.com/freshmart/api/internal/platform/firestore"
	"github.com/freshmart/api/internal/repositories"
)

const productsCollection = "products"

// CatalogRepository stores supplier products and owns the stock ledger.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &CatalogRepository{provider: provider, products: base}, nil
}

// FindProduct loads a single product by ID.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}

	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, wrapStockError("catalog.get", "", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindProducts loads the requested products keyed by ID. Missing products are
// simply absent from the result.
func (r *CatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	out := make(map[string]domain.Product, len(productIDs))
	for _, productID := range productIDs {
		id := strings.TrimSpace(productID)
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		doc, err := r.products.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, wrapStockError("catalog.getMany", id, err)
		}
		out[id] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// UpsertProduct persists the product document using its ID as document identifier.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}

	now := time.Now().UTC()
	doc := newProductDocument(product)
	doc.UpdatedAt = now
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}

	if _, err := r.products.Set(ctx, id, doc); err != nil {
		return domain.Product{}, wrapStockError("catalog.upsert", id, err)
	}
	return doc.toDomain(id), nil
}

// ListBySupplier pages through a supplier's products ordered by creation time.
func (r *CatalogRepository) ListBySupplier(ctx context.Context, supplierID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("catalog repository not initialised")
	}
	sid := strings.TrimSpace(supplierID)
	if sid == "" {
		return domain.CursorPage[domain.Product]{}, errors.New("catalog repository: supplier id is required")
	}

	pageSize := normalisePageSize(pager.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapStockError("catalog.listBySupplier", "", err)
	}

	query := client.Collection(productsCollection).
		Where("supplierId", "==", sid).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapStockError("catalog.listBySupplier", "", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	docs, err := collectDocuments(ctx, query, func(snap *firestore.DocumentSnapshot) (domain.Product, error) {
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Product{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		return doc.toDomain(snap.Ref.ID), nil
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapStockError("catalog.listBySupplier", "", err)
	}

	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}
	var nextToken string
	if hasMore && len(docs) > 0 {
		last := docs[len(docs)-1]
		nextToken, err = encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapStockError("catalog.listBySupplier", "", err)
		}
	}

	return domain.CursorPage[domain.Product]{Items: docs, NextPageToken: nextToken}, nil
}

// DecrementStock validates and applies every line atomically. When a
// transaction is already running on the context the decrements join it;
// otherwise a dedicated transaction wraps the whole batch. Variation stock is
// decremented alongside the product total so both pools stay consistent.
func (r *CatalogRepository) DecrementStock(ctx context.Context, lines []repositories.StockLine, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	if len(lines) == 0 {
		return errors.New("catalog repository: at least one stock line is required")
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return repositories.NewStockError(repositories.StockErrorProductNotFound, "", "stock decrement: product id is required", nil)
		}
		if line.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorUnknown, line.ProductID, fmt.Sprintf("stock decrement: quantity for %s must be > 0", line.ProductID), nil)
		}
	}

	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		return r.decrementInTx(ctx, tx, lines, now.UTC())
	}

	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		if err := apply(ctx, tx); err != nil {
			return wrapStockError("catalog.decrement", "", err)
		}
		return nil
	}

	if err := r.provider.RunTransaction(ctx, apply); err != nil {
		return wrapStockError("catalog.decrement", "", err)
	}
	return nil
}

func (r *CatalogRepository) decrementInTx(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockLine, now time.Time) error {
	type productState struct {
		ref *firestore.DocumentRef
		doc *productDocument
	}

	// One read per product, reads before writes: Firestore transactions forbid
	// interleaving, and repeated lines for the same product must apply against
	// the same in-memory document so no decrement is lost on write.
	states := make(map[string]*productState, len(lines))
	readOrder := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if _, seen := states[id]; seen {
			continue
		}
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), err)
			}
			return err
		}
		doc := &productDocument{}
		if err := snap.DataTo(doc); err != nil {
			return fmt.Errorf("decode product %s: %w", id, err)
		}
		states[id] = &productState{ref: ref, doc: doc}
		readOrder = append(readOrder, id)
	}

	docs := make(map[string]*productDocument, len(states))
	for id, state := range states {
		docs[id] = state.doc
	}
	if err := applyStockLines(docs, lines, now); err != nil {
		return err
	}

	for _, id := range readOrder {
		state := states[id]
		if err := tx.Set(state.ref, *state.doc); err != nil {
			return err
		}
	}
	return nil
}

// applyStockLines validates and applies every decrement against the loaded
// documents. Lines referencing the same product accumulate on one document.
func applyStockLines(docs map[string]*productDocument, lines []repositories.StockLine, now time.Time) error {
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		doc, ok := docs[id]
		if !ok || doc == nil {
			return repositories.NewStockError(repositories.StockErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), nil)
		}

		if doc.Stock < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient, id, fmt.Sprintf("insufficient stock for %s", id), nil)
		}
		doc.Stock -= line.Quantity

		for _, wanted := range line.Variations {
			idx := doc.variationIndex(wanted.Name, wanted.Value)
			if idx < 0 {
				return repositories.NewStockError(repositories.StockErrorVariationNotFound, id, fmt.Sprintf("variation %s=%s not found for %s", wanted.Name, wanted.Value, id), nil)
			}
			if doc.Variations[idx].Stock < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, id, fmt.Sprintf("insufficient stock for %s variation %s=%s", id, wanted.Name, wanted.Value), nil)
			}
			doc.Variations[idx].Stock -= line.Quantity
		}

		doc.UpdatedAt = now
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	SupplierID      string                     `firestore:"supplierId"`
	Name            string                     `firestore:"name"`
	Price           int64                      `firestore:"price"`
	DiscountedPrice int64                      `firestore:"discountedPrice,omitempty"`
	Currency        string                     `firestore:"currency"`
	Stock           int                        `firestore:"stock"`
	Variations      []productVariationDocument `firestore:"variations,omitempty"`
	Active          bool                       `firestore:"active"`
	CreatedAt       time.Time                  `firestore:"createdAt"`
	UpdatedAt       time.Time                  `firestore:"updatedAt"`
}

type productVariationDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
	Price int64  `firestore:"price"`
	Stock int    `firestore:"stock"`
}

// variationIndex matches on the exact (name, value) pair, mirroring the
// lookup checkout prices against.
func (d *productDocument) variationIndex(name, value string) int {
	for i, variation := range d.Variations {
		if variation.Name == name && variation.Value == value {
			return i
		}
	}
	return -1
}

func newProductDocument(product domain.Product) productDocument {
	variations := make([]productVariationDocument, len(product.Variations))
	for i, variation := range product.Variations {
		variations[i] = productVariationDocument{
			Name:  strings.TrimSpace(variation.Name),
			Value: strings.TrimSpace(variation.Value),
			Price: variation.Price,
			Stock: variation.Stock,
		}
	}
	return productDocument{
		SupplierID:      strings.TrimSpace(product.SupplierID),
		Name:            strings.TrimSpace(product.Name),
		Price:           product.Price,
		DiscountedPrice: product.DiscountedPrice,
		Currency:        strings.ToUpper(strings.TrimSpace(product.Currency)),
		Stock:           product.Stock,
		Variations:      variations,
		Active:          product.Active,
		CreatedAt:       product.CreatedAt.UTC(),
		UpdatedAt:       product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	variations := make([]domain.ProductVariation, len(d.Variations))
	for i, variation := range d.Variations {
		variations[i] = domain.ProductVariation{
			Name:  variation.Name,
			Value: variation.Value,
			Price: variation.Price,
			Stock: variation.Stock,
		}
	}
	return domain.Product{
		ID:              id,
		SupplierID:      d.SupplierID,
		Name:            d.Name,
		Price:           d.Price,
		DiscountedPrice: d.DiscountedPrice,
		Currency:        d.Currency,
		Stock:           d.Stock,
		Variations:      variations,
		Active:          d.Active,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func wrapStockError(op, productID string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		if stockErr.ProductID == "" {
			stockErr.ProductID = productID
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
