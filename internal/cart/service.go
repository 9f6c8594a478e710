package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/cache"
	"github.com/noah-isme/storefront-engine/internal/pricing"
)

// Repository persists authenticated carts. Implementations must make AddQuantity an
// atomic increment so concurrent adds never lose updates.
type Repository interface {
	// EnsureCart returns the user's cart id, creating the cart when needed and extending
	// its expiry either way.
	EnsureCart(ctx context.Context, userID string, expiresAt time.Time) (string, error)
	// Load returns the user's cart, or an empty cart when none exists.
	Load(ctx context.Context, userID string) (Cart, error)
	AddQuantity(ctx context.Context, cartID string, item LineItem) error
	SetQuantity(ctx context.Context, cartID, productID string, quantity int) error
	RemoveItem(ctx context.Context, cartID, productID string) error
	ClearItems(ctx context.Context, cartID string) error
	// RecordSyncToken stores a merge token and reports whether it was new. A token
	// recorded before since counts as new again and its timestamp is refreshed.
	RecordSyncToken(ctx context.Context, cartID, token string, since time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteSyncTokensBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// InTx runs fn against a repository bound to one transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
}

// Catalog resolves sellable products. Unknown or inactive ids are absent from the result.
type Catalog interface {
	Products(ctx context.Context, ids []string) (map[string]Product, error)
}

// Locker serialises work per key across replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service implements the server side of authenticated carts.
type Service struct {
	Repo         Repository
	Catalog      Catalog
	Locker       Locker
	TTL          time.Duration
	LockTTL      time.Duration
	SyncTokenTTL time.Duration
	// ReplayWindow bounds de-duplication of merges sent without a token (default 2m).
	// Identical guest carts merged further apart are separate carts.
	ReplayWindow time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

func (s *Service) ttl() time.Duration {
	if s.TTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) replayWindow() time.Duration {
	if s.ReplayWindow <= 0 {
		return 2 * time.Minute
	}
	return s.ReplayWindow
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s == nil || s.Repo == nil || s.Catalog == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

func (s *Service) load(ctx context.Context, userID string) (Cart, error) {
	c, err := s.Repo.Load(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	c.OwnerKey, c.Kind = userID, KindAuthenticated
	if c.Items == nil {
		c.Items = []LineItem{}
	}
	return c, nil
}

// Get returns the user's cart.
func (s *Service) Get(ctx context.Context, userID string) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	return s.load(ctx, userID)
}

// Add increments the quantity of productID, creating the line at the current catalog
// price when it does not exist yet.
func (s *Service) Add(ctx context.Context, userID, productID string, quantity int) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" || quantity < 1 || quantity > pricing.MaxQuantity {
		return Cart{}, fmt.Errorf("productId and a positive quantity are required: %w", ErrInvalidInput)
	}
	products, err := s.Catalog.Products(ctx, []string{productID})
	if err != nil {
		return Cart{}, fmt.Errorf("lookup product: %w", err)
	}
	p, ok := products[productID]
	if !ok {
		return Cart{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	cartID, err := s.Repo.EnsureCart(ctx, userID, s.now().Add(s.ttl()))
	if err != nil {
		return Cart{}, err
	}
	if err := s.Repo.AddQuantity(ctx, cartID, LineItem{ProductID: p.ID, Quantity: quantity, UnitPrice: p.Price, Category: p.Category}); err != nil {
		return Cart{}, err
	}
	return s.load(ctx, userID)
}

// UpdateQuantity sets the quantity of an existing line. Zero removes it.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	if quantity < 0 || quantity > pricing.MaxQuantity {
		return Cart{}, fmt.Errorf("quantity must be between 0 and %d: %w", pricing.MaxQuantity, ErrInvalidInput)
	}
	if quantity == 0 {
		return s.Remove(ctx, userID, productID)
	}
	cartID, err := s.Repo.EnsureCart(ctx, userID, s.now().Add(s.ttl()))
	if err != nil {
		return Cart{}, err
	}
	if err := s.Repo.SetQuantity(ctx, cartID, productID, quantity); err != nil {
		return Cart{}, err
	}
	return s.load(ctx, userID)
}

// Remove deletes the line for productID.
func (s *Service) Remove(ctx context.Context, userID, productID string) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	cartID, err := s.Repo.EnsureCart(ctx, userID, s.now().Add(s.ttl()))
	if err != nil {
		return Cart{}, err
	}
	if err := s.Repo.RemoveItem(ctx, cartID, productID); err != nil {
		return Cart{}, err
	}
	return s.load(ctx, userID)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	cartID, err := s.Repo.EnsureCart(ctx, userID, s.now().Add(s.ttl()))
	if err != nil {
		return Cart{}, err
	}
	if err := s.Repo.ClearItems(ctx, cartID); err != nil {
		return Cart{}, err
	}
	return s.load(ctx, userID)
}

// Sync merges guest lines into the user's cart, summing quantities per product. The
// merge runs under the per-user lock in one transaction and is recorded under its token,
// so a retried merge returns the current cart without adding anything twice. Requests
// without a token are keyed by their content and only de-duplicated within ReplayWindow.
// Products that are no longer sellable are skipped and reported.
func (s *Service) Sync(ctx context.Context, userID string, req SyncRequest) (SyncResult, error) {
	if err := s.ready(); err != nil {
		return SyncResult{}, err
	}
	items, err := Normalize(req.Items)
	if err != nil {
		return SyncResult{}, err
	}
	token := strings.TrimSpace(req.Token)
	var since time.Time
	if token == "" {
		token = SyncToken("content:"+userID, items)
		since = s.now().Add(-s.replayWindow())
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Catalog.Products(ctx, ids)
	if err != nil {
		return SyncResult{}, fmt.Errorf("lookup products: %w", err)
	}

	var res SyncResult
	merge := func(ctx context.Context) error {
		return s.Repo.InTx(ctx, func(tx Repository) error {
			cartID, err := tx.EnsureCart(ctx, userID, s.now().Add(s.ttl()))
			if err != nil {
				return err
			}
			fresh, err := tx.RecordSyncToken(ctx, cartID, token, since)
			if err != nil {
				return err
			}
			if !fresh {
				res.Replayed = true
				return nil
			}
			for _, it := range items {
				p, ok := products[it.ProductID]
				if !ok {
					res.Skipped = append(res.Skipped, it.ProductID)
					continue
				}
				line := LineItem{ProductID: p.ID, Quantity: it.Quantity, UnitPrice: p.Price, Category: p.Category}
				if err := tx.AddQuantity(ctx, cartID, line); err != nil {
					return fmt.Errorf("merge %s: %w", it.ProductID, err)
				}
			}
			return nil
		})
	}
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, cache.CartLockKey(userID), s.LockTTL, merge)
	} else {
		err = merge(ctx)
	}
	if err != nil {
		return SyncResult{}, err
	}

	res.Cart, err = s.load(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}
	s.Logger.Info().
		Str("user_id", userID).
		Int("lines", len(items)).
		Int("skipped", len(res.Skipped)).
		Bool("replayed", res.Replayed).
		Msg("cart merged")
	return res, nil
}

// PurgeExpired deletes carts whose expiry has passed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil || s.Repo == nil {
		return 0, errors.New("cart service not configured")
	}
	return s.Repo.DeleteExpired(ctx, s.now())
}

// PurgeSyncTokens forgets merge tokens older than SyncTokenTTL (default 30 days).
func (s *Service) PurgeSyncTokens(ctx context.Context) (int64, error) {
	if s == nil || s.Repo == nil {
		return 0, errors.New("cart service not configured")
	}
	ttl := s.SyncTokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return s.Repo.DeleteSyncTokensBefore(ctx, s.now().Add(-ttl))
}

// ForUser binds the service to one user, yielding the Server an AuthenticatedStore uses
// in-process.
func (s *Service) ForUser(userID string) Server {
	return userServer{svc: s, userID: userID}
}

type userServer struct {
	svc    *Service
	userID string
}

func (u userServer) Get(ctx context.Context) (Cart, error) { return u.svc.Get(ctx, u.userID) }

func (u userServer) Add(ctx context.Context, productID string, quantity int) (Cart, error) {
	return u.svc.Add(ctx, u.userID, productID, quantity)
}

func (u userServer) UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error) {
	return u.svc.UpdateQuantity(ctx, u.userID, productID, quantity)
}

func (u userServer) Remove(ctx context.Context, productID string) (Cart, error) {
	return u.svc.Remove(ctx, u.userID, productID)
}

func (u userServer) Clear(ctx context.Context) (Cart, error) { return u.svc.Clear(ctx, u.userID) }

func (u userServer) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	return u.svc.Sync(ctx, u.userID, req)
}
