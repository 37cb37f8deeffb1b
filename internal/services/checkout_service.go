package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderNumberSeries = "orders"
)

var (
	// ErrCheckoutInvalidInput signals the checkout command failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates there was nothing to order.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutInsufficientStock indicates at least one product could not be
	// reserved. The wrapped error names the product.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutProductNotFound indicates a cart line references an unknown product.
	ErrCheckoutProductNotFound = errors.New("checkout: product not found")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders     repositories.OrderRepository
	Catalog    repositories.CatalogRepository
	Carts      repositories.CartRepository
	Counters   repositories.CounterRepository
	Directory  repositories.DirectoryRepository
	UnitOfWork repositories.UnitOfWork
	Coupons    CouponValidator
	Notifier   NotificationDispatcher

	Rates                 domain.PricingRates
	Currency              string
	EstimatedDeliveryDays int

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	catalog    repositories.CatalogRepository
	carts      repositories.CartRepository
	counters   repositories.CounterRepository
	directory  repositories.DirectoryRepository
	unitOfWork repositories.UnitOfWork
	coupons    CouponValidator
	notifier   NotificationDispatcher

	rates         domain.PricingRates
	currency      string
	estimatedDays int

	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	coupons := deps.Coupons
	if coupons == nil {
		coupons = NewFixedRateCouponValidator(deps.Rates.DiscountBasisPoints)
	}
	currency := strings.TrimSpace(deps.Currency)
	if currency == "" {
		currency = "INR"
	}
	estimatedDays := deps.EstimatedDeliveryDays
	if estimatedDays <= 0 {
		estimatedDays = 3
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
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:        deps.Orders,
		catalog:       deps.Catalog,
		carts:         deps.Carts,
		counters:      deps.Counters,
		directory:     deps.Directory,
		unitOfWork:    unit,
		coupons:       coupons,
		notifier:      deps.Notifier,
		rates:         deps.Rates,
		currency:      currency,
		estimatedDays: estimatedDays,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder validates the whole cart up front, splits it into one order per
// supplier, and commits the stock decrement together with every insert in a
// single transaction. Nothing is persisted when any line fails.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) ([]Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrCheckoutInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	kind := cmd.DeliveryKind
	if kind == "" {
		kind = domain.DeliveryKindStandard
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown delivery kind %q", ErrCheckoutInvalidInput, cmd.DeliveryKind)
	}
	if err := validateDeliveryAddress(cmd.DeliveryAddress); err != nil {
		return nil, err
	}

	items, err := s.resolveItems(ctx, customerID, cmd)
	if err != nil {
		return nil, err
	}

	groups, lines, err := s.buildSupplierGroups(ctx, items)
	if err != nil {
		return nil, err
	}

	discountRate, couponApplied, err := s.resolveCoupon(ctx, cmd.CouponCode)
	if err != nil {
		return nil, err
	}
	rates := s.rates
	rates.DiscountBasisPoints = discountRate

	now := s.clock()
	orders := make([]Order, 0, len(groups))
	for _, group := range groups {
		order, err := s.assembleOrder(ctx, group, cmd, customerID, kind, couponApplied, rates, now)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.catalog.DecrementStock(txCtx, lines, now); err != nil {
			return err
		}
		for _, order := range orders {
			if err := s.orders.Insert(txCtx, order); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.mapCheckoutError(err)
	}

	s.afterCheckout(ctx, customerID, cmd.FromCart, orders)
	return orders, nil
}

// resolveItems chooses between the stored cart and an explicit item list.
func (s *checkoutService) resolveItems(ctx context.Context, customerID string, cmd PlaceOrderCommand) ([]CartItem, error) {
	items := cmd.Items
	if cmd.FromCart {
		if s.carts == nil {
			return nil, errors.New("checkout service: cart repository not configured")
		}
		cart, err := s.carts.Get(ctx, customerID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, ErrCheckoutEmptyCart
			}
			return nil, err
		}
		items = cart.Items
	}
	if len(items) == 0 {
		return nil, ErrCheckoutEmptyCart
	}
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, fmt.Errorf("%w: item product id is required", ErrCheckoutInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %s quantity must be positive", ErrCheckoutInvalidInput, item.ProductID)
		}
	}
	return items, nil
}

// supplierGroup collects the priced lines destined for one supplier order.
type supplierGroup struct {
	supplierID string
	items      []OrderItem
}

// buildSupplierGroups prices every line against the catalog and splits the
// result per supplier. Order of suppliers is deterministic.
func (s *checkoutService) buildSupplierGroups(ctx context.Context, items []CartItem) ([]supplierGroup, []repositories.StockLine, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	bySupplier := make(map[string][]OrderItem)
	lines := make([]repositories.StockLine, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrCheckoutProductNotFound, item.ProductID)
		}
		if !product.Active {
			return nil, nil, fmt.Errorf("%w: product %s is no longer available", ErrCheckoutInvalidInput, item.ProductID)
		}

		// Variation surcharges stack on top of both price tiers.
		unitPrice := product.Price
		discountedPrice := product.EffectivePrice()
		for _, requested := range item.Variations {
			variation := product.Variation(requested.Name, requested.Value)
			if variation == nil {
				return nil, nil, fmt.Errorf("%w: product %s has no variation %s=%s",
					ErrCheckoutInvalidInput, item.ProductID, requested.Name, requested.Value)
			}
			unitPrice += variation.Price
			discountedPrice += variation.Price
		}

		bySupplier[product.SupplierID] = append(bySupplier[product.SupplierID], OrderItem{
			ProductID:           product.ID,
			Name:                product.Name,
			Quantity:            item.Quantity,
			UnitPrice:           unitPrice,
			DiscountedUnitPrice: discountedPrice,
			TotalPrice:          int64(item.Quantity) * discountedPrice,
			Variations:          item.Variations,
		})
		lines = append(lines, repositories.StockLine{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Variations: item.Variations,
		})
	}

	supplierIDs := make([]string, 0, len(bySupplier))
	for supplierID := range bySupplier {
		supplierIDs = append(supplierIDs, supplierID)
	}
	sort.Strings(supplierIDs)

	groups := make([]supplierGroup, 0, len(supplierIDs))
	for _, supplierID := range supplierIDs {
		groups = append(groups, supplierGroup{supplierID: supplierID, items: bySupplier[supplierID]})
	}
	return groups, lines, nil
}

func (s *checkoutService) resolveCoupon(ctx context.Context, code string) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, false, nil
	}
	rate, err := s.coupons.Validate(ctx, code)
	if err != nil {
		return 0, false, fmt.Errorf("%w: coupon %s: %v", ErrCheckoutInvalidInput, code, err)
	}
	return rate, rate > 0, nil
}

func (s *checkoutService) assembleOrder(ctx context.Context, group supplierGroup, cmd PlaceOrderCommand, customerID string, kind DeliveryKind, couponApplied bool, rates domain.PricingRates, now time.Time) (Order, error) {
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	var subtotal int64
	for _, item := range group.items {
		subtotal += item.TotalPrice
	}

	order := Order{
		ID:                    orderIDPrefix + s.newID(),
		OrderNumber:           number,
		CustomerID:            customerID,
		SupplierID:            group.supplierID,
		Items:                 group.items,
		Charges:               domain.ComputeCharges(subtotal, kind, couponApplied, rates),
		Currency:              s.currency,
		Status:                domain.OrderStatusPending,
		PaymentMethod:         cmd.PaymentMethod,
		PaymentStatus:         domain.PaymentStatusPending,
		DeliveryKind:          kind,
		DeliveryAddress:       cmd.DeliveryAddress,
		CouponCode:            strings.TrimSpace(cmd.CouponCode),
		Notes:                 strings.TrimSpace(cmd.Notes),
		EstimatedDeliveryDate: now.AddDate(0, 0, s.estimatedDays),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	order.AppendHistory(domain.OrderStatusPending, now, Actor{ID: customerID, Role: domain.RoleCustomer}, "")
	return order, nil
}

func (s *checkoutService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberSeries, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("FM-%04d-%06d", now.Year(), seq), nil
}

// afterCheckout clears the cart and notifies participants. Both are
// best-effort; the orders are already committed.
func (s *checkoutService) afterCheckout(ctx context.Context, customerID string, fromCart bool, orders []Order) {
	if fromCart && s.carts != nil {
		if err := s.carts.Clear(ctx, customerID); err != nil {
			s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
				"customer": customerID,
				"error":    err.Error(),
			})
		}
	}

	if s.notifier == nil {
		return
	}
	for _, order := range orders {
		s.notifier.Dispatch(ctx, NotificationMessage{
			Kind:        NotificationOrderPlaced,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      string(order.Status),
			Recipients:  resolveRecipients(ctx, s.directory, order.CustomerID, order.SupplierID),
		})
	}
}

func (s *checkoutService) mapCheckoutError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrCheckoutProductNotFound, err)
		default:
			return fmt.Errorf("%w: %v", ErrCheckoutInsufficientStock, err)
		}
	}
	return mapOrderRepositoryError(err)
}

// FixedRateCouponValidator accepts any non-empty coupon code and grants one
// configured discount rate.
type FixedRateCouponValidator struct {
	basisPoints int64
}

// NewFixedRateCouponValidator builds the default coupon validator.
func NewFixedRateCouponValidator(basisPoints int64) *FixedRateCouponValidator {
	if basisPoints < 0 {
		basisPoints = 0
	}
	return &FixedRateCouponValidator{basisPoints: basisPoints}
}

func (v *FixedRateCouponValidator) Validate(_ context.Context, code string) (int64, error) {
	if strings.TrimSpace(code) == "" {
		return 0, nil
	}
	return v.basisPoints, nil
}

func validateDeliveryAddress(addr DeliveryAddress) error {
	missing := make([]string, 0, 6)
	if strings.TrimSpace(addr.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(addr.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(addr.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		missing = append(missing, "postalCode")
	}
	if strings.TrimSpace(addr.Country) == "" {
		missing = append(missing, "country")
	}
	if strings.TrimSpace(addr.Phone) == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: delivery address missing %s", ErrCheckoutInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
