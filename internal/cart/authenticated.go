package cart

import (
	"context"
	"fmt"
	"sync"
)

// SyncRequest carries a login-time merge. Token makes retries of the same merge no-ops.
type SyncRequest struct {
	Items []LineItem
	Token string
}

// SyncResult is the merged server cart plus the product ids that could not be merged.
type SyncResult struct {
	Cart     Cart
	Skipped  []string
	Replayed bool
}

// Server is the cart persistence collaborator for signed-in shoppers. Every call returns
// the full canonical cart.
type Server interface {
	Get(ctx context.Context) (Cart, error)
	Add(ctx context.Context, productID string, quantity int) (Cart, error)
	UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error)
	Remove(ctx context.Context, productID string) (Cart, error)
	Clear(ctx context.Context) (Cart, error)
	Sync(ctx context.Context, req SyncRequest) (SyncResult, error)
}

// AuthenticatedStore proxies mutations to a Server. A successful response replaces the
// local snapshot wholesale; a failed call leaves it untouched.
type AuthenticatedStore struct {
	mu     sync.Mutex
	server Server
	cart   Cart
}

// NewAuthenticated returns a store with an empty snapshot; call Refresh to load it.
func NewAuthenticated(server Server) *AuthenticatedStore {
	return &AuthenticatedStore{server: server, cart: Cart{Kind: KindAuthenticated, Items: []LineItem{}}}
}

// Refresh reloads the snapshot from the server.
func (s *AuthenticatedStore) Refresh(ctx context.Context) (Cart, error) {
	return s.apply(func() (Cart, error) { return s.server.Get(ctx) })
}

// Snapshot implements Store.
func (s *AuthenticatedStore) Snapshot() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCart(s.cart)
}

// AddItem implements Store. The server prices the product itself.
func (s *AuthenticatedStore) AddItem(ctx context.Context, p Product, quantity int) (Cart, error) {
	if quantity == 0 {
		quantity = 1
	}
	if p.ID == "" || quantity < 0 {
		return s.Snapshot(), fmt.Errorf("add item: %w", ErrInvalidInput)
	}
	return s.apply(func() (Cart, error) { return s.server.Add(ctx, p.ID, quantity) })
}

// UpdateQuantity implements Store.
func (s *AuthenticatedStore) UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error) {
	if quantity < 0 {
		return s.Snapshot(), fmt.Errorf("update quantity: %w", ErrInvalidInput)
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, productID)
	}
	return s.apply(func() (Cart, error) { return s.server.UpdateQuantity(ctx, productID, quantity) })
}

// RemoveItem implements Store.
func (s *AuthenticatedStore) RemoveItem(ctx context.Context, productID string) (Cart, error) {
	return s.apply(func() (Cart, error) { return s.server.Remove(ctx, productID) })
}

// Clear implements Store.
func (s *AuthenticatedStore) Clear(ctx context.Context) (Cart, error) {
	return s.apply(func() (Cart, error) { return s.server.Clear(ctx) })
}

// Sync submits a merge and adopts the merged cart on success.
func (s *AuthenticatedStore) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	var res SyncResult
	_, err := s.apply(func() (Cart, error) {
		var err error
		res, err = s.server.Sync(ctx, req)
		return res.Cart, err
	})
	return res, err
}

// apply holds the lock across the server call so responses are adopted in call order.
func (s *AuthenticatedStore) apply(call func() (Cart, error)) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := call()
	if err != nil {
		return cloneCart(s.cart), err
	}
	next.Kind = KindAuthenticated
	if next.Items == nil {
		next.Items = []LineItem{}
	}
	s.cart = cloneCart(next)
	return next, nil
}
