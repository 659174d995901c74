package service

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RefundLine struct {
	ProductID    uint
	RestockQty   int
	NoRestockQty int
}

type RefundRequest struct {
	Type   model.RefundType
	Reason string
	Lines  []RefundLine
}

type RefundPreviewLine struct {
	ProductID       uint            `json:"product_id"`
	ProductName     string          `json:"product_name"`
	OrderedQty      int             `json:"ordered_qty"`
	RefundedQty     int             `json:"refunded_qty"`
	RemainingQty    int             `json:"remaining_qty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	RefundUnitPrice decimal.Decimal `json:"refund_unit_price"`
}

type RefundPreview struct {
	Order           *model.Order        `json:"order"`
	Lines           []RefundPreviewLine `json:"lines"`
	RefundedAmount  decimal.Decimal     `json:"refunded_amount"`
	RemainingAmount decimal.Decimal     `json:"remaining_amount"`
}

// RefundOutcome is returned for every refund the provider accepted, including
// when a later local step failed.
type RefundOutcome struct {
	Refund   *model.Refund
	Warnings []string
}

type RefundDetail struct {
	Refund         *model.Refund   `json:"refund"`
	Order          *model.Order    `json:"order"`
	RefundedToDate decimal.Decimal `json:"refunded_to_date"`
}

type RefundService interface {
	Preview(ctx context.Context, orderID uint) (*RefundPreview, error)
	Refund(ctx context.Context, orderID uint, req RefundRequest) (*RefundOutcome, error)
	List(ctx context.Context) ([]*model.Refund, error)
	ListForUser(ctx context.Context, userID uint) ([]*model.Refund, error)
	Detail(ctx context.Context, refundID uint) (*RefundDetail, error)
}

type refundServiceImpl struct {
	db              *gorm.DB
	orderRepo       repository.OrderRepository
	refundRepo      repository.RefundRepository
	inventoryRepo   repository.InventoryRepository
	paypalClient    client.PaypalClient
	stripeClient    client.StripeClient
	braintreeClient client.BraintreeClient
	notifier        *RefundNotifier
	locks           *keyedMutex
	logger          *zap.Logger
}

func NewRefundService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	refundRepo repository.RefundRepository,
	inventoryRepo repository.InventoryRepository,
	paypalClient client.PaypalClient,
	stripeClient client.StripeClient,
	braintreeClient client.BraintreeClient,
	notifier *RefundNotifier,
	logger *zap.Logger,
) RefundService {
	return &refundServiceImpl{
		db:              db,
		orderRepo:       orderRepo,
		refundRepo:      refundRepo,
		inventoryRepo:   inventoryRepo,
		paypalClient:    paypalClient,
		stripeClient:    stripeClient,
		braintreeClient: braintreeClient,
		notifier:        notifier,
		locks:           newKeyedMutex(),
		logger:          logger.Named("refund"),
	}
}

func (s *refundServiceImpl) Preview(ctx context.Context, orderID uint) (*RefundPreview, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return s.preview(ctx, nil, order)
}

// preview reads the refund history through tx so a locked order sees a
// consistent balance. A nil tx reads outside any transaction.
func (s *refundServiceImpl) preview(ctx context.Context, tx *gorm.DB, order *model.Order) (*RefundPreview, error) {
	refunded, err := s.refundRepo.SumByOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("sum refunds: %w", err)
	}
	refundedQty, err := s.refundRepo.RefundedQuantities(ctx, tx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("get refunded quantities: %w", err)
	}

	multiplier := taxMultiplier(order)
	byProduct := make(map[uint]*RefundPreviewLine)
	var lines []*RefundPreviewLine
	for _, item := range order.Items {
		line, ok := byProduct[item.ProductID]
		if !ok {
			line = &RefundPreviewLine{
				ProductID:       item.ProductID,
				ProductName:     item.ProductName,
				UnitPrice:       item.UnitPrice,
				RefundUnitPrice: item.UnitPrice.Mul(multiplier).Round(2),
			}
			byProduct[item.ProductID] = line
			lines = append(lines, line)
		}
		line.OrderedQty += item.Quantity
	}

	preview := &RefundPreview{
		Order:           order,
		RefundedAmount:  refunded,
		RemainingAmount: order.Total.Sub(refunded),
	}
	for _, line := range lines {
		line.RefundedQty = refundedQty[line.ProductID]
		line.RemainingQty = max(line.OrderedQty-line.RefundedQty, 0)
		preview.Lines = append(preview.Lines, *line)
	}

	return preview, nil
}

// taxMultiplier folds tax into per-unit refunds: total / subtotal.
func taxMultiplier(order *model.Order) decimal.Decimal {
	if order.Subtotal.IsZero() {
		return decimal.NewFromInt(1)
	}
	return order.Total.Div(order.Subtotal)
}

type refundSelection struct {
	line      RefundPreviewLine
	restock   int
	noRestock int
}

func (sel refundSelection) quantity() int {
	return sel.restock + sel.noRestock
}

// selectLines validates the request against the remaining quantities and
// reports whether it covers everything still refundable.
func selectLines(preview *RefundPreview, req RefundRequest) ([]refundSelection, bool, error) {
	var selections []refundSelection

	switch req.Type {
	case model.RefundTypeFullRestock, model.RefundTypeFullNoRestock:
		for _, line := range preview.Lines {
			if line.RemainingQty <= 0 {
				continue
			}
			sel := refundSelection{line: line}
			if req.Type == model.RefundTypeFullRestock {
				sel.restock = line.RemainingQty
			} else {
				sel.noRestock = line.RemainingQty
			}
			selections = append(selections, sel)
		}

	case model.RefundTypeCustom:
		lines := make(map[uint]RefundPreviewLine, len(preview.Lines))
		for _, line := range preview.Lines {
			lines[line.ProductID] = line
		}

		seen := make(map[uint]bool, len(req.Lines))
		for _, requested := range req.Lines {
			if requested.RestockQty < 0 || requested.NoRestockQty < 0 {
				return nil, false, fmt.Errorf("product %d: negative quantity: %w", requested.ProductID, ErrInvalidRefundSelection)
			}
			if seen[requested.ProductID] {
				return nil, false, fmt.Errorf("product %d listed twice: %w", requested.ProductID, ErrInvalidRefundSelection)
			}
			seen[requested.ProductID] = true

			if requested.RestockQty+requested.NoRestockQty == 0 {
				continue
			}
			line, ok := lines[requested.ProductID]
			if !ok {
				return nil, false, fmt.Errorf("product %d is not on this order: %w", requested.ProductID, ErrInvalidRefundSelection)
			}
			if requested.RestockQty+requested.NoRestockQty > line.RemainingQty {
				return nil, false, fmt.Errorf("product %d: only %d left to refund: %w", requested.ProductID, line.RemainingQty, ErrInvalidRefundSelection)
			}

			selections = append(selections, refundSelection{
				line:      line,
				restock:   requested.RestockQty,
				noRestock: requested.NoRestockQty,
			})
		}

	default:
		return nil, false, fmt.Errorf("unknown refund type %q: %w", req.Type, ErrInvalidRefundSelection)
	}

	if len(selections) == 0 {
		return nil, false, fmt.Errorf("nothing selected: %w", ErrInvalidRefundSelection)
	}

	selected := make(map[uint]int, len(selections))
	for _, sel := range selections {
		selected[sel.line.ProductID] = sel.quantity()
	}
	full := true
	for _, line := range preview.Lines {
		if line.RemainingQty > 0 && selected[line.ProductID] != line.RemainingQty {
			full = false
			break
		}
	}

	return selections, full, nil
}

// requestedAmount prorates tax over the selected lines in one step so no
// intermediate value is rounded.
func requestedAmount(order *model.Order, selections []refundSelection) decimal.Decimal {
	lineSum := decimal.Zero
	for _, sel := range selections {
		lineSum = lineSum.Add(sel.line.UnitPrice.Mul(decimal.NewFromInt(int64(sel.quantity()))))
	}
	if order.Subtotal.IsZero() {
		return lineSum.Round(2)
	}
	return lineSum.Mul(order.Total).Div(order.Subtotal).Round(2)
}

// plan validates req against the preview and returns the selected lines with
// the amount to send.
func plan(preview *RefundPreview, req RefundRequest) ([]refundSelection, decimal.Decimal, error) {
	if !preview.RemainingAmount.IsPositive() {
		return nil, decimal.Zero, ErrNoRefundableBalance
	}

	selections, full, err := selectLines(preview, req)
	if err != nil {
		return nil, decimal.Zero, err
	}

	amount := requestedAmount(preview.Order, selections)
	if full {
		amount = preview.RemainingAmount
	}
	if !amount.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("refund amount %s: %w", amount.StringFixed(2), ErrInvalidRefundSelection)
	}
	if amount.GreaterThan(preview.RemainingAmount) {
		return nil, decimal.Zero, fmt.Errorf("refund %s of remaining %s: %w",
			amount.StringFixed(2), preview.RemainingAmount.StringFixed(2), ErrRefundAmountExceedsBalance)
	}

	return selections, amount, nil
}

// Refund holds the order row locked from the balance check until the refund
// is recorded, so two instances cannot both spend the same balance.
func (s *refundServiceImpl) Refund(ctx context.Context, orderID uint, req RefundRequest) (*RefundOutcome, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	log := s.logger.With(zap.Uint("order_id", orderID))

	var (
		preview    *RefundPreview
		selections []refundSelection
		outcome    *RefundOutcome
		persistErr error
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindForUpdate(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		preview, err = s.preview(ctx, tx, order)
		if err != nil {
			return err
		}

		var amount decimal.Decimal
		selections, amount, err = plan(preview, req)
		if err != nil {
			return err
		}

		log = log.With(
			zap.String("invoice", order.InvoiceNumber),
			zap.String("amount", amount.StringFixed(2)),
		)

		result, err := s.sendRefund(ctx, order, amount)
		if err != nil {
			log.Error("provider refund failed", zap.Error(err))
			return err
		}
		log.Info("provider accepted refund", zap.String("provider_refund_id", result.ID), zap.String("status", result.Status))

		// the money has moved: commit whatever was recorded, never roll back
		outcome, persistErr = s.record(ctx, tx, order, req, selections, amount, result, log)
		return nil
	})

	switch {
	case outcome == nil:
		return nil, err
	case err != nil:
		log.Error("commit refund history", zap.Error(err))
		return outcome, &PersistenceError{Stage: "commit", Message: "refund sent, but failed to store history", Err: err}
	case persistErr != nil:
		return outcome, persistErr
	}

	var restock []repository.StockLine
	for _, sel := range selections {
		if sel.restock > 0 {
			restock = append(restock, repository.StockLine{ProductID: sel.line.ProductID, Quantity: sel.restock})
		}
	}
	if len(restock) > 0 {
		if err := s.inventoryRepo.Restock(ctx, restock); err != nil {
			log.Warn("restock refunded items", zap.Error(err))
			outcome.Warnings = append(outcome.Warnings, "refund stored, but restock failed: "+err.Error())
		}
	}

	s.notifier.Notify(ctx, preview.Order, outcome.Refund, preview.RefundedAmount.Add(outcome.Refund.Amount), preview.Lines)

	return outcome, nil
}

// record writes the refund, its items and the order balance through tx. The
// outcome is always returned; the error says which write failed.
func (s *refundServiceImpl) record(
	ctx context.Context,
	tx *gorm.DB,
	order *model.Order,
	req RefundRequest,
	selections []refundSelection,
	amount decimal.Decimal,
	result *client.RefundResult,
	log *zap.Logger,
) (*RefundOutcome, error) {
	refund := &model.Refund{
		OrderID:           order.ID,
		Provider:          order.PaymentMethod,
		ProviderRefundID:  result.ID,
		ProviderCaptureID: order.RefundReference(),
		Amount:            amount,
		Currency:          order.Currency,
		Status:            result.Status,
		Reason:            req.Reason,
		ProviderPayload:   datatypes.JSON(result.Raw),
		CreatedAt:         result.CreatedAt,
	}
	outcome := &RefundOutcome{Refund: refund}

	if err := s.refundRepo.Create(ctx, tx, refund); err != nil {
		log.Error("store refund history", zap.Error(err))
		return outcome, &PersistenceError{Stage: "history", Message: "refund sent, but failed to store history", Err: err}
	}

	items := make([]*model.RefundItem, 0, len(selections))
	for _, sel := range selections {
		items = append(items, &model.RefundItem{
			RefundID:        refund.ID,
			OrderID:         order.ID,
			ProductID:       sel.line.ProductID,
			Quantity:        sel.quantity(),
			RestockQuantity: sel.restock,
			UnitPrice:       sel.line.RefundUnitPrice,
		})
	}
	if err := s.refundRepo.CreateItems(ctx, tx, items); err != nil {
		log.Error("store refund items", zap.Error(err))
		return outcome, &PersistenceError{Stage: "items", Message: "refund sent, but failed to store item history", Err: err}
	}
	refund.Items = make([]model.RefundItem, len(items))
	for i, item := range items {
		refund.Items[i] = *item
	}

	if err := s.orderRepo.AddRefundedAmount(ctx, tx, order.ID, amount); err != nil {
		log.Error("update refunded amount", zap.Error(err))
		return outcome, &PersistenceError{Stage: "balance", Message: "refund sent, but failed to update order balance", Err: err}
	}

	return outcome, nil
}

func (s *refundServiceImpl) sendRefund(ctx context.Context, order *model.Order, amount decimal.Decimal) (*client.RefundResult, error) {
	reference := order.RefundReference()

	var (
		result *client.RefundResult
		err    error
	)
	switch order.PaymentMethod {
	case model.PaymentMethodPaypal:
		if reference == "" {
			return nil, fmt.Errorf("order has no paypal capture id: %w", ErrUnsupportedPaymentMethod)
		}
		result, err = s.paypalClient.RefundCapture(ctx, reference, amount, order.Currency)
	case model.PaymentMethodStripe:
		if reference == "" {
			return nil, fmt.Errorf("order has no stripe payment intent: %w", ErrUnsupportedPaymentMethod)
		}
		result, err = s.stripeClient.RefundPaymentIntent(ctx, reference, amount, order.Currency)
	case model.PaymentMethodBraintree:
		if reference == "" {
			return nil, fmt.Errorf("order has no braintree transaction: %w", ErrUnsupportedPaymentMethod)
		}
		result, err = s.braintreeClient.Refund(ctx, reference, amount)
	default:
		return nil, fmt.Errorf("%s refunds: %w", order.PaymentMethod, ErrUnsupportedPaymentMethod)
	}

	if err != nil {
		var providerErr *client.ProviderError
		if errors.As(err, &providerErr) {
			return nil, fmt.Errorf("%w: %w", ErrProviderRefundRejected, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	return result, nil
}

func (s *refundServiceImpl) List(ctx context.Context) ([]*model.Refund, error) {
	return s.refundRepo.List(ctx)
}

func (s *refundServiceImpl) ListForUser(ctx context.Context, userID uint) ([]*model.Refund, error) {
	return s.refundRepo.ListByUser(ctx, userID)
}

func (s *refundServiceImpl) Detail(ctx context.Context, refundID uint) (*RefundDetail, error) {
	refund, err := s.refundRepo.FindByID(ctx, refundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund: %w", err)
	}

	order, err := s.orderRepo.FindByID(ctx, refund.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	refunds, err := s.refundRepo.ListByOrder(ctx, refund.OrderID)
	if err != nil {
		return nil, fmt.Errorf("list order refunds: %w", err)
	}
	sort.Slice(refunds, func(i, j int) bool { return refunds[i].ID < refunds[j].ID })

	toDate := decimal.Zero
	for _, r := range refunds {
		if r.ID > refund.ID {
			break
		}
		toDate = toDate.Add(r.Amount)
	}

	return &RefundDetail{
		Refund:         refund,
		Order:          order,
		RefundedToDate: toDate.Round(2),
	}, nil
}

// keyedMutex queues refunds for the same order inside one process before they
// reach the row lock. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*refCountedMutex
}

type refCountedMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint]*refCountedMutex)}
}

func (k *keyedMutex) Lock(key uint) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refCountedMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
