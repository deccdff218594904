package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartProductNotFound indicates the referenced product does not exist.
var ErrCartProductNotFound = errors.New("cart service: product not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// CartServiceDeps wires the repositories and ambient collaborators for cart operations.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// GetCart returns the user's cart joined with live product data. Lines whose
// product has been deleted are excluded from the view and purged from the
// stored cart.
func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, uid)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	return s.buildView(ctx, cart)
}

// AddItem increments the quantity of a product line, creating the line when
// absent. The stock guard runs inside the repository transaction.
func (s *cartService) AddItem(ctx context.Context, cmd CartItemCommand) (CartView, error) {
	if err := validateCartItemCommand(cmd, false); err != nil {
		return CartView{}, err
	}

	cart, err := s.carts.MutateLine(ctx, repositories.CartMutation{
		UserID:    strings.TrimSpace(cmd.UserID),
		ProductID: strings.TrimSpace(cmd.ProductID),
		Op:        repositories.CartOpAdd,
		Quantity:  cmd.Quantity,
		Now:       s.now(),
	})
	if err != nil {
		return CartView{}, s.translateMutationError(ctx, err, cmd)
	}

	return s.buildView(ctx, cart)
}

// SetItemQuantity replaces the quantity of a product line. A quantity of
// zero removes the line; any other quantity below the product minimum is a
// guard denial, never an implicit removal.
func (s *cartService) SetItemQuantity(ctx context.Context, cmd CartItemCommand) (CartView, error) {
	if err := validateCartItemCommand(cmd, true); err != nil {
		return CartView{}, err
	}

	cart, err := s.carts.MutateLine(ctx, repositories.CartMutation{
		UserID:    strings.TrimSpace(cmd.UserID),
		ProductID: strings.TrimSpace(cmd.ProductID),
		Op:        repositories.CartOpSet,
		Quantity:  cmd.Quantity,
		Now:       s.now(),
	})
	if err != nil {
		return CartView{}, s.translateMutationError(ctx, err, cmd)
	}

	return s.buildView(ctx, cart)
}

// RemoveItem deletes the product line. Removing an absent line is a no-op.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error) {
	uid := strings.TrimSpace(cmd.UserID)
	pid := strings.TrimSpace(cmd.ProductID)
	if uid == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if pid == "" {
		return CartView{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.MutateLine(ctx, repositories.CartMutation{
		UserID:    uid,
		ProductID: pid,
		Op:        repositories.CartOpRemove,
		Now:       s.now(),
	})
	if err != nil {
		return CartView{}, s.translateMutationError(ctx, err, CartItemCommand{UserID: uid, ProductID: pid})
	}

	return s.buildView(ctx, cart)
}

// ClearCart removes every line, releasing the reservations they held.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	if _, err := s.carts.Clear(ctx, uid, nil, s.now()); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// buildView joins cart lines with their current product records. Orphaned
// lines (product gone) are counted, excluded, and purged so they release
// nothing and never resurface.
func (s *cartService) buildView(ctx context.Context, cart domain.Cart) (CartView, error) {
	view := CartView{Cart: cart, Lines: []CartViewLine{}}
	if cart.IsEmpty() {
		return view, nil
	}

	ids := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		ids = append(ids, line.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	var orphans []string
	for _, line := range cart.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			orphans = append(orphans, line.ProductID)
			continue
		}
		subtotal := product.Price * int64(line.Quantity)
		view.Lines = append(view.Lines, CartViewLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Image:       product.Image,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
			Subtotal:    subtotal,
		})
		view.Subtotal += subtotal
	}

	if len(orphans) > 0 {
		view.OrphanCount = len(orphans)
		purged, err := s.carts.Clear(ctx, cart.UserID, orphans, s.now())
		if err != nil {
			// The view is still correct; the purge retries on the next read.
			s.logger(ctx, "cart.orphan_purge_failed", map[string]any{
				"userID": cart.UserID,
				"count":  len(orphans),
				"error":  err.Error(),
			})
		} else {
			view.Cart = purged
		}
	}

	return view, nil
}

func validateCartItemCommand(cmd CartItemCommand, allowZero bool) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidInput)
	}
	if cmd.Quantity == 0 && !allowZero {
		return fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	return nil
}

// translateMutationError keeps guard denials intact so the exact message
// reaches the shopper, and maps typed repository errors to sentinels.
func (s *cartService) translateMutationError(ctx context.Context, err error, cmd CartItemCommand) error {
	if err == nil {
		return nil
	}

	var denial *domain.StockDenial
	if errors.As(err, &denial) {
		s.logger(ctx, "cart.stock_denied", map[string]any{
			"userID":    strings.TrimSpace(cmd.UserID),
			"productID": strings.TrimSpace(cmd.ProductID),
			"quantity":  cmd.Quantity,
			"reason":    string(denial.Reason),
		})
		return denial
	}

	var cartErr *repositories.CartError
	if errors.As(err, &cartErr) {
		switch cartErr.Code {
		case repositories.CartErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrCartProductNotFound, strings.TrimSpace(cmd.ProductID))
		case repositories.CartErrorInvalidMutation:
			return fmt.Errorf("%w: %s", ErrCartInvalidInput, cartErr.Message)
		}
	}

	return s.translateRepoError(err)
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartProductNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}
