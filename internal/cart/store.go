package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/storefront-engine/internal/pricing"
)

const (
	// StorageKey is the local storage entry holding the anonymous cart's line items.
	StorageKey = "cart"
	// NonceKey holds the random identity of the stored guest cart. A new nonce is minted
	// whenever a guest cart is created, so two carts never share a merge token.
	NonceKey = "cart_nonce"
)

// Store is the shopper-facing cart. Lines are addressed by product id. Adding with a
// quantity of 0 adds one unit; UpdateQuantity to 0 removes the line.
type Store interface {
	AddItem(ctx context.Context, p Product, quantity int) (Cart, error)
	UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error)
	RemoveItem(ctx context.Context, productID string) (Cart, error)
	Clear(ctx context.Context) (Cart, error)
	Snapshot() Cart
}

// LocalStorage is device-local key/value persistence.
type LocalStorage interface {
	Load(key string) ([]byte, bool, error)
	Save(key string, data []byte) error
	Remove(key string) error
}

// AnonymousStore keeps a guest cart in LocalStorage, writing through on every mutation.
// Two processes sharing the same storage race with last-write-wins semantics.
type AnonymousStore struct {
	mu       sync.Mutex
	storage  LocalStorage
	ownerKey string
	now      func() time.Time
	cart     Cart
	// stored is set while a cart entry exists in storage; nonce is its identity.
	stored bool
	nonce  string
}

// OpenAnonymous loads the stored guest cart for the session ownerKey, normalising lines
// written by older clients.
func OpenAnonymous(storage LocalStorage, ownerKey string) (*AnonymousStore, error) {
	s := &AnonymousStore{storage: storage, ownerKey: ownerKey, now: time.Now}
	s.cart = Cart{OwnerKey: ownerKey, Kind: KindAnonymous, Items: []LineItem{}}
	raw, ok, err := storage.Load(StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load anonymous cart: %w", err)
	}
	if !ok {
		return s, nil
	}
	var items []LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode anonymous cart: %w", err)
	}
	if items, err = Normalize(items); err != nil {
		return nil, fmt.Errorf("decode anonymous cart: %w", err)
	}
	s.cart.Items = items
	s.stored = true

	nonce, ok, err := storage.Load(NonceKey)
	if err != nil {
		return nil, fmt.Errorf("load anonymous cart nonce: %w", err)
	}
	if ok && len(nonce) > 0 {
		s.nonce = string(nonce)
		return s, nil
	}
	// carts written before nonces existed get one now, before any merge can use it
	if err := s.mintNonce(); err != nil {
		return nil, err
	}
	return s, nil
}

// Nonce returns the identity of the stored guest cart, or "" while none exists. It
// stays the same across retried merges and changes once the cart has been discarded.
func (s *AnonymousStore) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce
}

func (s *AnonymousStore) mintNonce() error {
	nonce := uuid.NewString()
	if err := s.storage.Save(NonceKey, []byte(nonce)); err != nil {
		return fmt.Errorf("save anonymous cart nonce: %w", err)
	}
	s.nonce = nonce
	return nil
}

// Snapshot implements Store.
func (s *AnonymousStore) Snapshot() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCart(s.cart)
}

// AddItem implements Store.
func (s *AnonymousStore) AddItem(_ context.Context, p Product, quantity int) (Cart, error) {
	if quantity == 0 {
		quantity = 1
	}
	if p.ID == "" || quantity < 0 || quantity > pricing.MaxQuantity || p.Price < 0 || p.Price > pricing.MaxAmount {
		return s.Snapshot(), fmt.Errorf("add item: %w", ErrInvalidInput)
	}
	return s.mutate(func(items []LineItem) ([]LineItem, error) {
		for i := range items {
			if items[i].ProductID == p.ID {
				if items[i].Quantity+quantity > pricing.MaxQuantity {
					return nil, fmt.Errorf("add item: %w", ErrInvalidInput)
				}
				items[i].Quantity += quantity
				return items, nil
			}
		}
		return append(items, LineItem{ProductID: p.ID, Quantity: quantity, UnitPrice: p.Price, Category: p.Category}), nil
	})
}

// UpdateQuantity implements Store.
func (s *AnonymousStore) UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error) {
	if quantity < 0 || quantity > pricing.MaxQuantity {
		return s.Snapshot(), fmt.Errorf("update quantity: %w", ErrInvalidInput)
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, productID)
	}
	return s.mutate(func(items []LineItem) ([]LineItem, error) {
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity = quantity
				return items, nil
			}
		}
		return nil, ErrNotFound
	})
}

// RemoveItem implements Store.
func (s *AnonymousStore) RemoveItem(_ context.Context, productID string) (Cart, error) {
	return s.mutate(func(items []LineItem) ([]LineItem, error) {
		for i := range items {
			if items[i].ProductID == productID {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, ErrNotFound
	})
}

// Clear implements Store.
func (s *AnonymousStore) Clear(context.Context) (Cart, error) {
	return s.mutate(func([]LineItem) ([]LineItem, error) { return []LineItem{}, nil })
}

// Discard removes the stored cart entirely. It is called once the cart has been merged
// into the shopper's account. The next guest cart gets a fresh nonce.
func (s *AnonymousStore) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Remove(StorageKey); err != nil {
		return fmt.Errorf("remove anonymous cart: %w", err)
	}
	s.cart.Items = []LineItem{}
	s.cart.LastModified = s.now()
	s.stored, s.nonce = false, ""
	if err := s.storage.Remove(NonceKey); err != nil {
		return fmt.Errorf("remove anonymous cart nonce: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the items and persists the result before publishing it,
// so a failed write leaves the in-memory cart unchanged. The first write of a new cart
// mints its nonce, so a nonce left behind by an earlier cart is never reused.
func (s *AnonymousStore) mutate(fn func([]LineItem) ([]LineItem, error)) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(cloneItems(s.cart.Items))
	if err != nil {
		return cloneCart(s.cart), err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return cloneCart(s.cart), err
	}
	if !s.stored {
		if err := s.mintNonce(); err != nil {
			return cloneCart(s.cart), err
		}
	}
	if err := s.storage.Save(StorageKey, raw); err != nil {
		return cloneCart(s.cart), fmt.Errorf("save anonymous cart: %w", err)
	}
	s.stored = true
	s.cart.Items = next
	s.cart.LastModified = s.now()
	return cloneCart(s.cart), nil
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

func cloneCart(c Cart) Cart {
	c.Items = cloneItems(c.Items)
	return c
}
