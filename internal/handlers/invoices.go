package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/freshmart/api/internal/platform/httpx"
	"github.com/freshmart/api/internal/services"
)

type invoiceResponse struct {
	OrderID       string `json:"order_id"`
	InvoiceNumber string `json:"invoice_number"`
	InvoiceURL    string `json:"invoice_url"`
}

// generateInvoice creates the invoice on demand. Regenerating an already
// invoiced order returns the stored document without rendering a new one.
func (h *OrderHandlers) generateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.invoices.Generate(ctx, services.GenerateInvoiceCommand{
		OrderID: orderID,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, invoiceResponse{
		OrderID:       order.ID,
		InvoiceNumber: order.InvoiceNumber,
		InvoiceURL:    order.InvoiceURL,
	})
}

// getInvoice returns the stored invoice reference for the order.
func (h *OrderHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.orders.Get(ctx, actor, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if strings.TrimSpace(order.InvoiceURL) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "no invoice generated for this order", http.StatusNotFound))
		return
	}

	downloadURL := order.InvoiceURL
	if h.invoices != nil {
		link, err := h.invoices.DownloadURL(ctx, order)
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		downloadURL = link
	}
	writeJSONResponse(w, http.StatusOK, invoiceResponse{
		OrderID:       order.ID,
		InvoiceNumber: order.InvoiceNumber,
		InvoiceURL:    downloadURL,
	})
}
