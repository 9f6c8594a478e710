package cart

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memCart struct {
	id        string
	items     []LineItem
	expiresAt time.Time
	updated   time.Time
	tokens    map[string]time.Time
}

type memRepo struct {
	mu    sync.Mutex
	carts map[string]*memCart
	now   func() time.Time
	fail  error
}

func newMemRepo() *memRepo {
	return &memRepo{carts: map[string]*memCart{}, now: time.Now}
}

func (m *memRepo) EnsureCart(_ context.Context, userID string, expiresAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	c, ok := m.carts[userID]
	if !ok {
		c = &memCart{id: "cart-" + userID, tokens: map[string]time.Time{}}
		m.carts[userID] = c
	}
	c.expiresAt = expiresAt
	c.updated = m.now()
	return c.id, nil
}

func (m *memRepo) byID(cartID string) *memCart {
	for _, c := range m.carts {
		if c.id == cartID {
			return c
		}
	}
	return nil
}

func (m *memRepo) Load(_ context.Context, userID string) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return Cart{OwnerKey: userID, Kind: KindAuthenticated, Items: []LineItem{}}, nil
	}
	return Cart{OwnerKey: userID, Kind: KindAuthenticated, Items: cloneItems(c.items), LastModified: c.updated}, nil
}

func (m *memRepo) AddQuantity(_ context.Context, cartID string, item LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(cartID)
	if c == nil {
		return errors.New("no cart")
	}
	for i := range c.items {
		if c.items[i].ProductID == item.ProductID {
			c.items[i].Quantity += item.Quantity
			return nil
		}
	}
	c.items = append(c.items, item)
	return nil
}

func (m *memRepo) SetQuantity(_ context.Context, cartID, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(cartID)
	for i := range c.items {
		if c.items[i].ProductID == productID {
			c.items[i].Quantity = quantity
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRepo) RemoveItem(_ context.Context, cartID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(cartID)
	for i := range c.items {
		if c.items[i].ProductID == productID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRepo) ClearItems(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID(cartID).items = nil
	return nil
}

func (m *memRepo) RecordSyncToken(_ context.Context, cartID, token string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID(cartID)
	if at, ok := c.tokens[token]; ok && !at.Before(since) {
		return false, nil
	}
	c.tokens[token] = m.now()
	return true, nil
}

func (m *memRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for user, c := range m.carts {
		if !c.expiresAt.After(now) {
			delete(m.carts, user)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) DeleteSyncTokensBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.carts {
		for token, at := range c.tokens {
			if at.Before(cutoff) {
				delete(c.tokens, token)
				n++
			}
		}
	}
	return n, nil
}

func (m *memRepo) InTx(_ context.Context, fn func(Repository) error) error {
	return fn(m)
}

type memCatalog map[string]Product

func (c memCatalog) Products(_ context.Context, ids []string) (map[string]Product, error) {
	out := map[string]Product{}
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type memStorage struct {
	data    map[string][]byte
	saveErr error
}

func newMemStorage() *memStorage { return &memStorage{data: map[string][]byte{}} }

func (s *memStorage) Load(key string) ([]byte, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStorage) Save(key string, data []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStorage) Remove(key string) error {
	delete(s.data, key)
	return nil
}

// failingServer rejects every call.
type failingServer struct{ err error }

func (f failingServer) Get(context.Context) (Cart, error)              { return Cart{}, f.err }
func (f failingServer) Add(context.Context, string, int) (Cart, error) { return Cart{}, f.err }
func (f failingServer) UpdateQuantity(context.Context, string, int) (Cart, error) {
	return Cart{}, f.err
}
func (f failingServer) Remove(context.Context, string) (Cart, error) { return Cart{}, f.err }
func (f failingServer) Clear(context.Context) (Cart, error)          { return Cart{}, f.err }
func (f failingServer) Sync(context.Context, SyncRequest) (SyncResult, error) {
	return SyncResult{}, f.err
}

var testCatalog = memCatalog{
	"P1": {ID: "P1", Price: 20000, Category: "books"},
	"P2": {ID: "P2", Price: 5000, Category: "toys"},
}

func newTestService(repo *memRepo) *Service {
	return &Service{Repo: repo, Catalog: testCatalog, TTL: time.Hour}
}
