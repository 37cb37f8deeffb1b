package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// invoiceLinkTTL bounds how long a signed invoice download link stays valid.
const invoiceLinkTTL = 15 * time.Minute

// DocumentPutter stores a rendered document and returns its public URL.
// Satisfied by the Cloud Storage document store.
type DocumentPutter interface {
	Put(ctx context.Context, object, contentType string, payload []byte) (string, error)
}

// signedURLStore is the optional signing capability of a document store.
type signedURLStore interface {
	CanSign() bool
	SignedDownloadURL(ctx context.Context, object string, expiresIn time.Duration) (string, error)
}

// StorageInvoiceRenderer writes plain-text invoices to object storage.
type StorageInvoiceRenderer struct {
	store DocumentPutter
}

// NewStorageInvoiceRenderer constructs the default invoice renderer.
func NewStorageInvoiceRenderer(store DocumentPutter) (*StorageInvoiceRenderer, error) {
	if store == nil {
		return nil, errors.New("invoice renderer: document store is required")
	}
	return &StorageInvoiceRenderer{store: store}, nil
}

// Render writes the invoice document and returns the object URL.
func (r *StorageInvoiceRenderer) Render(ctx context.Context, order Order, invoiceNumber string) (string, error) {
	return r.store.Put(ctx, invoiceObject(order.ID, invoiceNumber), "text/plain; charset=utf-8", renderInvoice(order, invoiceNumber))
}

// DownloadURL produces a time-limited link for the stored invoice when the
// backing store can sign URLs. Stores without a signer keep handing out the
// canonical object URL.
func (r *StorageInvoiceRenderer) DownloadURL(ctx context.Context, order Order) (string, error) {
	store, ok := r.store.(signedURLStore)
	if !ok || !store.CanSign() {
		return order.InvoiceURL, nil
	}
	return store.SignedDownloadURL(ctx, invoiceObject(order.ID, order.InvoiceNumber), invoiceLinkTTL)
}

func invoiceObject(orderID, invoiceNumber string) string {
	return fmt.Sprintf("invoices/%s/%s.txt", orderID, invoiceNumber)
}

func renderInvoice(order Order, invoiceNumber string) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Invoice %s\n", invoiceNumber)
	fmt.Fprintf(&buf, "Order %s (%s)\n", order.OrderNumber, order.ID)
	fmt.Fprintf(&buf, "Customer %s\n", order.CustomerID)
	fmt.Fprintf(&buf, "Supplier %s\n", order.SupplierID)
	fmt.Fprintf(&buf, "Payment %s (%s)\n", order.PaymentMethod, order.PaymentStatus)
	buf.WriteString(strings.Repeat("-", 40) + "\n")

	for _, item := range order.Items {
		fmt.Fprintf(&buf, "%-28s x%-3d %s\n", item.Name, item.Quantity, formatMoney(item.LineTotal(), order.Currency))
	}

	buf.WriteString(strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&buf, "Subtotal  %s\n", formatMoney(order.Charges.Subtotal, order.Currency))
	fmt.Fprintf(&buf, "Delivery  %s\n", formatMoney(order.Charges.DeliveryCharge, order.Currency))
	fmt.Fprintf(&buf, "Taxes     %s\n", formatMoney(order.Charges.Taxes, order.Currency))
	if order.Charges.Discount > 0 {
		fmt.Fprintf(&buf, "Discount  -%s\n", formatMoney(order.Charges.Discount, order.Currency))
	}
	fmt.Fprintf(&buf, "Total     %s\n", formatMoney(order.Charges.Total, order.Currency))

	return buf.Bytes()
}

// formatMoney renders a minor-unit amount with two decimal places.
func formatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
