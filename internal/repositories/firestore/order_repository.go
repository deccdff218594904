package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/northmart/api/internal/domain"
	pfirestore "github.com/northmart/api/internal/platform/firestore"
	"github.com/northmart/api/internal/platform/pagination"
	"github.com/northmart/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	trackingSubcollection  = "tracking"
)

// OrderRepository persists order snapshots, their tracking subcollection, and
// the order-number registry. Creation and status transitions are single
// Firestore transactions: the order write and its tracking append either both
// commit or neither does.
type OrderRepository struct {
	base     *pfirestore.Collection[orderDocument]
	numbers  *pfirestore.Collection[orderNumberDocument]
	carts    *pfirestore.Collection[cartDocument]
	products *pfirestore.Collection[productDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		numbers:  pfirestore.NewCollection[orderNumberDocument](provider, orderNumbersCollection),
		carts:    pfirestore.NewCollection[cartDocument](provider, cartCollection),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		provider: provider,
	}, nil
}

// Create persists the order, claims its number in the registry, appends the
// creation tracking entry, consumes stock, and clears the cart per policy,
// all in one transaction. The cart must still carry the UpdatedAt the
// snapshot was built from; a mismatch fails with OrderErrorCartChanged.
func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: order id is required", nil)
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: order number is required", nil)
	}
	if strings.TrimSpace(order.UserID) == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: user id is required", nil)
	}
	if len(order.Items) == 0 {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: at least one item is required", nil)
	}
	if strings.TrimSpace(req.Tracking.ID) == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: tracking id is required", nil)
	}

	now := order.CreatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var saved domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.Ref(ctx, order.ID)
		if err != nil {
			return err
		}
		numberRef, err := r.numbers.Ref(ctx, order.OrderNumber)
		if err != nil {
			return err
		}
		cartRef, err := r.carts.Ref(ctx, order.UserID)
		if err != nil {
			return err
		}

		// Reads first: Firestore transactions forbid reads after writes.
		if _, err := tx.Get(numberRef); err == nil {
			return repositories.NewOrderError(repositories.OrderErrorNumberTaken,
				fmt.Sprintf("order number %s already registered", order.OrderNumber), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		cartDoc, cartExists, err := readCart(tx, cartRef)
		if err != nil {
			return err
		}
		if !cartExists || !cartDoc.UpdatedAt.Equal(req.CartUpdatedAt.UTC()) {
			return repositories.NewOrderError(repositories.OrderErrorCartChanged,
				"cart changed since the order snapshot was taken", nil)
		}

		type stockConsume struct {
			ref *firestore.DocumentRef
			doc productDocument
			qty int
		}
		consumes := make([]stockConsume, 0, len(order.Items))
		for _, item := range order.Items {
			ref, err := r.products.Ref(ctx, item.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewOrderError(repositories.OrderErrorCartChanged,
						fmt.Sprintf("product %s no longer exists", item.ProductID), err)
				}
				return err
			}
			var product productDocument
			if err := snap.DataTo(&product); err != nil {
				return fmt.Errorf("decode product %s: %w", item.ProductID, err)
			}
			if product.Stock < item.Quantity {
				return repositories.NewOrderError(repositories.OrderErrorCartChanged,
					fmt.Sprintf("product %s stock changed since the order snapshot was taken", item.ProductID), nil)
			}
			consumes = append(consumes, stockConsume{ref: ref, doc: product, qty: item.Quantity})
		}

		// Writes.
		for _, consume := range consumes {
			consume.doc.Stock -= consume.qty
			consume.doc.Reserved -= consume.qty
			if consume.doc.Reserved < 0 {
				consume.doc.Reserved = 0
			}
			consume.doc.UpdatedAt = now
			consume.doc.recalculate()
			if err := tx.Set(consume.ref, consume.doc); err != nil {
				return err
			}
		}

		orderDoc := newOrderDocument(order)
		orderDoc.CreatedAt = now
		orderDoc.UpdatedAt = now
		if err := tx.Create(orderRef, orderDoc); err != nil {
			return err
		}
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: order.ID, CreatedAt: now}); err != nil {
			return err
		}

		trackingRef := orderRef.Collection(trackingSubcollection).Doc(req.Tracking.ID)
		if err := tx.Create(trackingRef, newTrackingDocument(req.Tracking)); err != nil {
			return err
		}

		switch req.ClearPolicy {
		case domain.ClearAllLines:
			cartDoc.Lines = nil
		default:
			snapshotIDs := make(map[string]bool, len(order.Items))
			for _, item := range order.Items {
				snapshotIDs[item.ProductID] = true
			}
			kept := cartDoc.Lines[:0]
			for _, line := range cartDoc.Lines {
				if !snapshotIDs[line.ProductID] {
					kept = append(kept, line)
				}
			}
			cartDoc.Lines = kept
		}
		cartDoc.UpdatedAt = now
		if err := tx.Set(cartRef, cartDoc); err != nil {
			return err
		}

		saved = orderDoc.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.create", err)
	}
	return saved, nil
}

// UpdateStatus performs a compare-and-set transition and appends the tracking
// entry in the same transaction. A transition into cancelled or failed also
// returns each snapshot line's quantity to product stock, so the inventory
// consumed at creation is released the moment the order leaves the paid path.
// The compare-and-set guarantees the release runs at most once per order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(update.OrderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order update: order id is required", nil)
	}
	if strings.TrimSpace(update.TrackingID) == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order update: tracking id is required", nil)
	}
	if !update.Next.Valid() {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput,
			fmt.Sprintf("order update: unknown status %q", update.Next), nil)
	}

	now := update.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var saved domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.Ref(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound,
					fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		current := domain.OrderStatus(doc.Status)
		if current != update.Expected {
			return &repositories.OrderError{
				Code:    repositories.OrderErrorStatusChanged,
				Message: fmt.Sprintf("order %s is %s, expected %s", orderID, current, update.Expected),
				Current: current,
			}
		}

		// Reads first: the stock release below writes the product docs, so
		// they have to be loaded before any write in this transaction.
		type stockRelease struct {
			ref *firestore.DocumentRef
			doc productDocument
			qty int
		}
		var releases []stockRelease
		if releasesStock(update.Next) {
			releases = make([]stockRelease, 0, len(doc.Items))
			for _, item := range doc.Items {
				ref, err := r.products.Ref(ctx, item.ProductID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						// Product deleted since the order was placed. Nothing
						// to restore the quantity onto.
						continue
					}
					return err
				}
				var product productDocument
				if err := snap.DataTo(&product); err != nil {
					return fmt.Errorf("decode product %s: %w", item.ProductID, err)
				}
				releases = append(releases, stockRelease{ref: ref, doc: product, qty: item.Quantity})
			}
		}

		for _, release := range releases {
			release.doc.Stock += release.qty
			release.doc.UpdatedAt = now
			release.doc.recalculate()
			if err := tx.Set(release.ref, release.doc); err != nil {
				return err
			}
		}

		doc.Status = string(update.Next)
		doc.UpdatedAt = now
		doc.stampStatusTime(update.Next, now)
		if update.Payment != nil {
			doc.Payment.apply(*update.Payment)
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		trackingRef := orderRef.Collection(trackingSubcollection).Doc(update.TrackingID)
		entry := domain.TrackingEntry{
			ID:             update.TrackingID,
			OrderID:        orderID,
			Status:         update.Next,
			PreviousStatus: update.Expected,
			ActorID:        update.Actor.ID,
			ActorName:      update.Actor.Name,
			Note:           update.Note,
			CreatedAt:      now,
		}
		if err := tx.Create(trackingRef, newTrackingDocument(entry)); err != nil {
			return err
		}

		saved = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.updateStatus", err)
	}
	return saved, nil
}

// UpdatePaymentMeta patches the gateway correlation fields without touching
// the order status or appending tracking.
func (r *OrderRepository) UpdatePaymentMeta(ctx context.Context, orderID string, patch repositories.PaymentMetaPatch, now time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order payment patch: order id is required", nil)
	}
	now = now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var saved domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.Ref(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound,
					fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		doc.Payment.apply(patch)
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		saved = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.updatePayment", err)
	}
	return saved, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order find: order id is required", nil)
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByNumber resolves an order through the number registry.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.numbers == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order find: order number is required", nil)
	}
	registry, err := r.numbers.Get(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, registry.Data.OrderID)
}

// List returns a page of a user's orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order list: user id is required", nil)
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query.Where("userRef", "==", userID)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("createdAt", ">=", filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		query = query.Where("createdAt", "<", filter.CreatedBefore.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var cursor orderCursor
		if err := pagination.DecodeCursor(token, &cursor); err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := pagination.EncodeCursor(orderCursor{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ListTracking returns the order's tracking log, oldest first.
func (r *OrderRepository) ListTracking(ctx context.Context, orderID string) ([]domain.TrackingEntry, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order tracking: order id is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("orders.tracking", err)
	}

	iter := client.Collection(ordersCollection).Doc(orderID).
		Collection(trackingSubcollection).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var entries []domain.TrackingEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.tracking", err)
		}
		var doc trackingDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode tracking %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID, orderID))
	}
	return entries, nil
}

// ListPendingBefore returns pending orders whose payment window opened before
// the cutoff, for the timeout sweeper.
func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("orders.pending", err)
	}

	iter := client.Collection(ordersCollection).Query.
		Where("status", "==", string(domain.OrderStatusPending)).
		Where("paymentInitiatedAt", "<", cutoff.UTC()).
		OrderBy("paymentInitiatedAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.pending", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}
	return orders, nil
}

// releasesStock reports whether a transition into the given status returns
// the order's consumed quantities to product stock.
func releasesStock(next domain.OrderStatus) bool {
	return next == domain.OrderStatusCancelled || next == domain.OrderStatusFailed
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}

// Document shapes ------------------------------------------------------------

type orderDocument struct {
	OrderNumber        string              `firestore:"orderNumber"`
	UserRef            string              `firestore:"userRef"`
	Status             string              `firestore:"status"`
	Currency           string              `firestore:"currency"`
	Total              int64               `firestore:"total"`
	Items              []orderLineDocument `firestore:"items"`
	ShippingAddress    addressDocument     `firestore:"shippingAddress"`
	Payment            paymentDocument     `firestore:"payment"`
	PaymentInitiatedAt *time.Time          `firestore:"paymentInitiatedAt,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
	ConfirmedAt        *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt          *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt        *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt        *time.Time          `firestore:"cancelledAt,omitempty"`
	FailedAt           *time.Time          `firestore:"failedAt,omitempty"`
}

func (d *orderDocument) stampStatusTime(next domain.OrderStatus, now time.Time) {
	switch next {
	case domain.OrderStatusConfirmed:
		d.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		d.ShippedAt = &now
	case domain.OrderStatusDelivered:
		d.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		d.CancelledAt = &now
	case domain.OrderStatusFailed:
		d.FailedAt = &now
	}
}

type orderLineDocument struct {
	ProductID    string `firestore:"productId"`
	ProductName  string `firestore:"productName"`
	ProductImage string `firestore:"productImage,omitempty"`
	UnitPrice    int64  `firestore:"unitPrice"`
	Quantity     int    `firestore:"qty"`
}

type addressDocument struct {
	RecipientName string `firestore:"recipientName"`
	Line1         string `firestore:"line1"`
	Line2         string `firestore:"line2,omitempty"`
	City          string `firestore:"city"`
	Region        string `firestore:"region,omitempty"`
	PostalCode    string `firestore:"postalCode"`
	Country       string `firestore:"country"`
	Phone         string `firestore:"phone,omitempty"`
}

type paymentDocument struct {
	PaymentID     string `firestore:"paymentId,omitempty"`
	Status        string `firestore:"status,omitempty"`
	Method        string `firestore:"method,omitempty"`
	Amount        int64  `firestore:"amount,omitempty"`
	FailureReason string `firestore:"failureReason,omitempty"`
	RefundID      string `firestore:"refundId,omitempty"`
	RefundStatus  string `firestore:"refundStatus,omitempty"`
	RefundAmount  int64  `firestore:"refundAmount,omitempty"`
}

func (d *paymentDocument) apply(patch repositories.PaymentMetaPatch) {
	if patch.PaymentID != nil {
		d.PaymentID = *patch.PaymentID
	}
	if patch.Status != nil {
		d.Status = *patch.Status
	}
	if patch.Method != nil {
		d.Method = *patch.Method
	}
	if patch.Amount != nil {
		d.Amount = *patch.Amount
	}
	if patch.FailureReason != nil {
		d.FailureReason = *patch.FailureReason
	}
	if patch.RefundID != nil {
		d.RefundID = *patch.RefundID
	}
	if patch.RefundStatus != nil {
		d.RefundStatus = *patch.RefundStatus
	}
	if patch.RefundAmount != nil {
		d.RefundAmount = *patch.RefundAmount
	}
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type trackingDocument struct {
	Status         string    `firestore:"status"`
	PreviousStatus string    `firestore:"previousStatus,omitempty"`
	ActorID        string    `firestore:"actorId"`
	ActorName      string    `firestore:"actorName,omitempty"`
	Note           string    `firestore:"note,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func newTrackingDocument(entry domain.TrackingEntry) trackingDocument {
	return trackingDocument{
		Status:         string(entry.Status),
		PreviousStatus: string(entry.PreviousStatus),
		ActorID:        strings.TrimSpace(entry.ActorID),
		ActorName:      strings.TrimSpace(entry.ActorName),
		Note:           strings.TrimSpace(entry.Note),
		CreatedAt:      entry.CreatedAt.UTC(),
	}
}

func (d trackingDocument) toDomain(id, orderID string) domain.TrackingEntry {
	return domain.TrackingEntry{
		ID:             id,
		OrderID:        orderID,
		Status:         domain.OrderStatus(d.Status),
		PreviousStatus: domain.OrderStatus(d.PreviousStatus),
		ActorID:        d.ActorID,
		ActorName:      d.ActorName,
		Note:           d.Note,
		CreatedAt:      d.CreatedAt,
	}
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderLineDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderLineDocument{
			ProductID:    strings.TrimSpace(item.ProductID),
			ProductName:  strings.TrimSpace(item.ProductName),
			ProductImage: strings.TrimSpace(item.ProductImage),
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
		}
	}
	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserRef:     strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:       order.Total,
		Items:       items,
		ShippingAddress: addressDocument{
			RecipientName: strings.TrimSpace(order.ShippingAddress.RecipientName),
			Line1:         strings.TrimSpace(order.ShippingAddress.Line1),
			Line2:         strings.TrimSpace(order.ShippingAddress.Line2),
			City:          strings.TrimSpace(order.ShippingAddress.City),
			Region:        strings.TrimSpace(order.ShippingAddress.Region),
			PostalCode:    strings.TrimSpace(order.ShippingAddress.PostalCode),
			Country:       strings.TrimSpace(order.ShippingAddress.Country),
			Phone:         strings.TrimSpace(order.ShippingAddress.Phone),
		},
		Payment: paymentDocument{
			PaymentID:     strings.TrimSpace(order.Payment.PaymentID),
			Status:        strings.TrimSpace(order.Payment.Status),
			Method:        strings.TrimSpace(order.Payment.Method),
			Amount:        order.Payment.Amount,
			FailureReason: strings.TrimSpace(order.Payment.FailureReason),
			RefundID:      strings.TrimSpace(order.Payment.RefundID),
			RefundStatus:  strings.TrimSpace(order.Payment.RefundStatus),
			RefundAmount:  order.Payment.RefundAmount,
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if order.PaymentInitiatedAt != nil {
		t := order.PaymentInitiatedAt.UTC()
		doc.PaymentInitiatedAt = &t
	}
	if order.ConfirmedAt != nil {
		t := order.ConfirmedAt.UTC()
		doc.ConfirmedAt = &t
	}
	if order.ShippedAt != nil {
		t := order.ShippedAt.UTC()
		doc.ShippedAt = &t
	}
	if order.DeliveredAt != nil {
		t := order.DeliveredAt.UTC()
		doc.DeliveredAt = &t
	}
	if order.CancelledAt != nil {
		t := order.CancelledAt.UTC()
		doc.CancelledAt = &t
	}
	if order.FailedAt != nil {
		t := order.FailedAt.UTC()
		doc.FailedAt = &t
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineSnapshot, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineSnapshot{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
		}
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserRef,
		Status:      domain.OrderStatus(d.Status),
		Currency:    d.Currency,
		Total:       d.Total,
		Items:       items,
		ShippingAddress: domain.Address{
			RecipientName: d.ShippingAddress.RecipientName,
			Line1:         d.ShippingAddress.Line1,
			Line2:         d.ShippingAddress.Line2,
			City:          d.ShippingAddress.City,
			Region:        d.ShippingAddress.Region,
			PostalCode:    d.ShippingAddress.PostalCode,
			Country:       d.ShippingAddress.Country,
			Phone:         d.ShippingAddress.Phone,
		},
		Payment: domain.PaymentInfo{
			PaymentID:     d.Payment.PaymentID,
			Status:        d.Payment.Status,
			Method:        d.Payment.Method,
			Amount:        d.Payment.Amount,
			FailureReason: d.Payment.FailureReason,
			RefundID:      d.Payment.RefundID,
			RefundStatus:  d.Payment.RefundStatus,
			RefundAmount:  d.Payment.RefundAmount,
		},
		PaymentInitiatedAt: d.PaymentInitiatedAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		ConfirmedAt:        d.ConfirmedAt,
		ShippedAt:          d.ShippedAt,
		DeliveredAt:        d.DeliveredAt,
		CancelledAt:        d.CancelledAt,
		FailedAt:           d.FailedAt,
	}
}

type orderCursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
