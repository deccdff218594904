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

	domain "github.com/northmart/api/internal/domain"
	pfirestore "github.com/northmart/api/internal/platform/firestore"
	"github.com/northmart/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts within Firestore. Each user owns a single
// cart document keyed by their user ID; line mutations run in the same
// transaction that adjusts the product's reserved counter so reservations
// can never exceed stock under concurrent access.
type CartRepository struct {
	base     *pfirestore.Collection[cartDocument]
	products *pfirestore.Collection[productDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base:     pfirestore.NewCollection[cartDocument](provider, cartCollection),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		provider: provider,
	}, nil
}

// Get loads the cart for the given user. A missing document is an empty cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{ID: uid, UserID: uid}, nil
		}
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// MutateLine applies a single line change. The stock guard runs inside the
// transaction against a product view whose stock nets out reservations held
// by other carts; denials surface as *domain.StockDenial.
func (r *CartRepository) MutateLine(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(mutation.UserID)
	productID := strings.TrimSpace(mutation.ProductID)
	if uid == "" {
		return domain.Cart{}, repositories.NewCartError(repositories.CartErrorInvalidMutation, "cart mutate: user id is required", nil)
	}
	if productID == "" {
		return domain.Cart{}, repositories.NewCartError(repositories.CartErrorInvalidMutation, "cart mutate: product id is required", nil)
	}
	switch mutation.Op {
	case repositories.CartOpAdd:
		if mutation.Quantity <= 0 {
			return domain.Cart{}, repositories.NewCartError(repositories.CartErrorInvalidMutation, "cart mutate: quantity must be > 0", nil)
		}
	case repositories.CartOpSet:
		if mutation.Quantity < 0 {
			return domain.Cart{}, repositories.NewCartError(repositories.CartErrorInvalidMutation, "cart mutate: quantity must be >= 0", nil)
		}
	case repositories.CartOpRemove:
	default:
		return domain.Cart{}, repositories.NewCartError(repositories.CartErrorInvalidMutation, fmt.Sprintf("cart mutate: unknown op %q", mutation.Op), nil)
	}

	now := mutation.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result domain.Cart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.base.Ref(ctx, uid)
		if err != nil {
			return err
		}
		productRef, err := r.products.Ref(ctx, productID)
		if err != nil {
			return err
		}

		cartDoc, cartExists, err := readCart(tx, cartRef)
		if err != nil {
			return err
		}

		var product productDocument
		productExists := true
		if snap, err := tx.Get(productRef); err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			productExists = false
		} else if err := snap.DataTo(&product); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}

		existingIdx := -1
		existingQty := 0
		for i, line := range cartDoc.Lines {
			if line.ProductID == productID {
				existingIdx = i
				existingQty = line.Quantity
				break
			}
		}

		// Removal works even when the product document is gone; that is
		// how orphaned lines get purged.
		op := mutation.Op
		if op == repositories.CartOpSet && mutation.Quantity == 0 {
			op = repositories.CartOpRemove
		}

		newQty := existingQty
		switch op {
		case repositories.CartOpAdd, repositories.CartOpSet:
			if !productExists {
				return repositories.NewCartError(repositories.CartErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
			}
			// Stock visible to this cart: total stock minus units held by
			// other carts.
			view := product.toDomain(productID)
			view.Stock = product.Stock - (product.Reserved - existingQty)
			if op == repositories.CartOpAdd {
				if denial := domain.CanReserve(view, existingQty, mutation.Quantity); denial != nil {
					return denial
				}
				newQty = existingQty + mutation.Quantity
			} else {
				if denial := domain.CanReserve(view, 0, mutation.Quantity); denial != nil {
					return denial
				}
				newQty = mutation.Quantity
			}
		case repositories.CartOpRemove:
			if existingIdx < 0 {
				// Removing an absent line is a no-op.
				result = cartDoc.toDomain(uid)
				return nil
			}
			newQty = 0
		}

		if delta := newQty - existingQty; delta != 0 && productExists {
			product.Reserved += delta
			if product.Reserved < 0 {
				product.Reserved = 0
			}
			product.UpdatedAt = now
			product.recalculate()
			if err := tx.Set(productRef, product); err != nil {
				return err
			}
		}

		switch {
		case newQty == 0 && existingIdx >= 0:
			cartDoc.Lines = append(cartDoc.Lines[:existingIdx], cartDoc.Lines[existingIdx+1:]...)
		case existingIdx >= 0:
			cartDoc.Lines[existingIdx].Quantity = newQty
			cartDoc.Lines[existingIdx].UpdatedAt = now
		default:
			cartDoc.Lines = append(cartDoc.Lines, cartLineDocument{
				ProductID: productID,
				Quantity:  newQty,
				AddedAt:   now,
				UpdatedAt: now,
			})
		}

		if !cartExists {
			cartDoc.Currency = product.Currency
			cartDoc.CreatedAt = now
		}
		cartDoc.UpdatedAt = now
		if err := tx.Set(cartRef, cartDoc); err != nil {
			return err
		}
		result = cartDoc.toDomain(uid)
		return nil
	})
	if err != nil {
		return domain.Cart{}, wrapCartError("cart.mutate", err)
	}
	return result, nil
}

// Clear removes the named lines and releases their reservations. A nil
// productIDs slice empties the cart.
func (r *CartRepository) Clear(ctx context.Context, userID string, productIDs []string, now time.Time) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	now = now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var targets map[string]bool
	if productIDs != nil {
		targets = make(map[string]bool, len(productIDs))
		for _, id := range productIDs {
			if id = strings.TrimSpace(id); id != "" {
				targets[id] = true
			}
		}
	}

	var result domain.Cart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.base.Ref(ctx, uid)
		if err != nil {
			return err
		}
		cartDoc, cartExists, err := readCart(tx, cartRef)
		if err != nil {
			return err
		}
		if !cartExists || len(cartDoc.Lines) == 0 {
			result = domain.Cart{ID: uid, UserID: uid, UpdatedAt: cartDoc.UpdatedAt}
			return nil
		}

		var removed, kept []cartLineDocument
		for _, line := range cartDoc.Lines {
			if targets == nil || targets[line.ProductID] {
				removed = append(removed, line)
			} else {
				kept = append(kept, line)
			}
		}
		if len(removed) == 0 {
			result = cartDoc.toDomain(uid)
			return nil
		}

		// All reads must precede writes in a Firestore transaction.
		type productRelease struct {
			ref *firestore.DocumentRef
			doc productDocument
			qty int
		}
		var releases []productRelease
		for _, line := range removed {
			ref, err := r.products.Ref(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var product productDocument
			if err := snap.DataTo(&product); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			releases = append(releases, productRelease{ref: ref, doc: product, qty: line.Quantity})
		}

		for _, release := range releases {
			release.doc.Reserved -= release.qty
			if release.doc.Reserved < 0 {
				release.doc.Reserved = 0
			}
			release.doc.UpdatedAt = now
			release.doc.recalculate()
			if err := tx.Set(release.ref, release.doc); err != nil {
				return err
			}
		}

		cartDoc.Lines = kept
		cartDoc.UpdatedAt = now
		if err := tx.Set(cartRef, cartDoc); err != nil {
			return err
		}
		result = cartDoc.toDomain(uid)
		return nil
	})
	if err != nil {
		return domain.Cart{}, wrapCartError("cart.clear", err)
	}
	return result, nil
}

func readCart(tx *firestore.Transaction, ref *firestore.DocumentRef) (cartDocument, bool, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return cartDocument{}, false, nil
		}
		return cartDocument{}, false, err
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return cartDocument{}, false, fmt.Errorf("decode cart %s: %w", ref.ID, err)
	}
	return doc, true, nil
}

func wrapCartError(op string, err error) error {
	if err == nil {
		return nil
	}
	var denial *domain.StockDenial
	if errors.As(err, &denial) {
		return denial
	}
	var cartErr *repositories.CartError
	if errors.As(err, &cartErr) {
		if cartErr.Op == "" {
			cartErr.Op = op
		}
		return cartErr
	}
	return pfirestore.WrapError(op, err)
}

// Document shapes ------------------------------------------------------------

type cartDocument struct {
	Currency  string             `firestore:"currency,omitempty"`
	Lines     []cartLineDocument `firestore:"lines"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"qty"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	lines := make([]domain.CartLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt,
			UpdatedAt: line.UpdatedAt,
		}
	}
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		Lines:     lines,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
