package firestore

import (
	"errors"
	"testing"
	"time"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

func testStockDocs() map[string]*productDocument {
	return map[string]*productDocument{
		"prd_a": {
			SupplierID: "sup_1",
			Name:       "Apples",
			Price:      500,
			Stock:      10,
			Variations: []productVariationDocument{
				{Name: "size", Value: "small", Stock: 4},
				{Name: "size", Value: "large", Stock: 6},
			},
			Active: true,
		},
		"prd_b": {
			SupplierID: "sup_1",
			Name:       "Bread",
			Price:      300,
			Stock:      5,
			Active:     true,
		},
	}
}

func TestApplyStockLinesAccumulatesRepeatedProduct(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	docs := testStockDocs()

	// Two lines for the same product, distinct variations. Both must land on
	// the stored document.
	lines := []repositories.StockLine{
		{ProductID: "prd_a", Quantity: 2, Variations: []domain.ItemVariation{{Name: "size", Value: "small"}}},
		{ProductID: "prd_a", Quantity: 3, Variations: []domain.ItemVariation{{Name: "size", Value: "large"}}},
		{ProductID: "prd_b", Quantity: 1},
	}
	if err := applyStockLines(docs, lines, now); err != nil {
		t.Fatalf("applyStockLines: %v", err)
	}

	if docs["prd_a"].Stock != 5 {
		t.Fatalf("expected prd_a stock 10-2-3=5, got %d", docs["prd_a"].Stock)
	}
	if docs["prd_a"].Variations[0].Stock != 2 {
		t.Fatalf("expected small variation stock 2, got %d", docs["prd_a"].Variations[0].Stock)
	}
	if docs["prd_a"].Variations[1].Stock != 3 {
		t.Fatalf("expected large variation stock 3, got %d", docs["prd_a"].Variations[1].Stock)
	}
	if docs["prd_b"].Stock != 4 {
		t.Fatalf("expected prd_b stock 4, got %d", docs["prd_b"].Stock)
	}
	if !docs["prd_a"].UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt %s, got %s", now, docs["prd_a"].UpdatedAt)
	}
}

func TestApplyStockLinesRejectsOverdraft(t *testing.T) {
	docs := testStockDocs()

	// Each line fits on its own; together they overdraw the main pool.
	lines := []repositories.StockLine{
		{ProductID: "prd_b", Quantity: 3},
		{ProductID: "prd_b", Quantity: 3},
	}
	err := applyStockLines(docs, lines, time.Now().UTC())

	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
}

func TestApplyStockLinesVariationMatchIsExact(t *testing.T) {
	docs := testStockDocs()

	lines := []repositories.StockLine{
		{ProductID: "prd_a", Quantity: 1, Variations: []domain.ItemVariation{{Name: "Size", Value: "SMALL"}}},
	}
	err := applyStockLines(docs, lines, time.Now().UTC())

	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorVariationNotFound {
		t.Fatalf("expected variation not found for case-mismatched pair, got %v", err)
	}
}

func TestApplyStockLinesUnknownProduct(t *testing.T) {
	err := applyStockLines(testStockDocs(), []repositories.StockLine{{ProductID: "prd_missing", Quantity: 1}}, time.Now().UTC())

	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorProductNotFound {
		t.Fatalf("expected product not found, got %v", err)
	}
}
