package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	pfirestore "github.com/freshmart/api/internal/platform/firestore"
	"github.com/freshmart/api/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists customer carts keyed by customer ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// Get loads the cart for the given customer. A missing document surfaces a
// RepositoryError with IsNotFound.
func (r *CartRepository) Get(ctx context.Context, customerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return domain.Cart{}, errors.New("cart repository: customer id is required")
	}

	doc, err := r.base.Get(ctx, cid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ReplaceItems overwrites the cart contents for the customer.
func (r *CartRepository) ReplaceItems(ctx context.Context, customerID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return domain.Cart{}, errors.New("cart repository: customer id is required")
	}

	now := time.Now().UTC()
	doc := cartDocument{
		Items:     newCartItemDocuments(items),
		UpdatedAt: now,
	}
	if _, err := r.base.Set(ctx, cid, doc); err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(cid), nil
}

// Clear removes every item from the customer's cart. Clearing an absent cart
// is a no-op.
func (r *CartRepository) Clear(ctx context.Context, customerID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return errors.New("cart repository: customer id is required")
	}

	doc := cartDocument{
		Items:     []cartItemDocument{},
		UpdatedAt: time.Now().UTC(),
	}
	_, err := r.base.Set(ctx, cid, doc)
	return err
}

// Helper structures ---------------------------------------------------------

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID  string                  `firestore:"productId"`
	Quantity   int                     `firestore:"quantity"`
	Variations []itemVariationDocument `firestore:"variations,omitempty"`
}

func newCartItemDocuments(items []domain.CartItem) []cartItemDocument {
	out := make([]cartItemDocument, len(items))
	for i, item := range items {
		variations := make([]itemVariationDocument, len(item.Variations))
		for j, variation := range item.Variations {
			variations[j] = itemVariationDocument{Name: variation.Name, Value: variation.Value}
		}
		out[i] = cartItemDocument{
			ProductID:  strings.TrimSpace(item.ProductID),
			Quantity:   item.Quantity,
			Variations: variations,
		}
	}
	return out
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		variations := make([]domain.ItemVariation, len(item.Variations))
		for j, variation := range item.Variations {
			variations[j] = domain.ItemVariation{Name: variation.Name, Value: variation.Value}
		}
		items[i] = domain.CartItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Variations: variations,
		}
	}
	return domain.Cart{
		ID:         id,
		CustomerID: id,
		Items:      items,
		UpdatedAt:  d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
