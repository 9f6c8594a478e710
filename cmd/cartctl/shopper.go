package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/app"
	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/cartclient"
	"github.com/noah-isme/storefront-engine/internal/config"
)

const (
	sessionKey = "session"
	deviceKey  = "device"
)

var errSignedOut = errors.New("not signed in: run cartctl login first")

// session is persisted next to the guest cart once a login merge succeeded.
type session struct {
	Token  string    `json:"token"`
	UserID string    `json:"userId,omitempty"`
	APIURL string    `json:"apiUrl"`
	Since  time.Time `json:"since"`
}

type device struct {
	OwnerKey string `json:"ownerKey"`
}

// shopper bundles the on-disk state and API settings of one cartctl invocation.
type shopper struct {
	storage cart.FileStorage
	apiURL  string
	timeout time.Duration
	out     io.Writer
	logger  zerolog.Logger
}

func (s *shopper) init() error {
	if s.storage.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		s.storage.Dir = filepath.Join(home, ".storefront")
	}
	return os.MkdirAll(s.storage.Dir, 0o700)
}

func (s *shopper) loadJSON(key string, dst any) (bool, error) {
	raw, ok, err := s.storage.Load(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *shopper) saveJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.storage.Save(key, raw)
}

// ownerKey returns the stable guest identity of this device, minting one on first use.
func (s *shopper) ownerKey() (string, error) {
	var d device
	ok, err := s.loadJSON(deviceKey, &d)
	if err != nil {
		return "", err
	}
	if ok && d.OwnerKey != "" {
		return d.OwnerKey, nil
	}
	d.OwnerKey = "guest-" + uuid.NewString()
	return d.OwnerKey, s.saveJSON(deviceKey, d)
}

func (s *shopper) session() (session, bool, error) {
	var sess session
	ok, err := s.loadJSON(sessionKey, &sess)
	if err != nil || !ok || strings.TrimSpace(sess.Token) == "" {
		return session{}, false, err
	}
	return sess, true, nil
}

func (s *shopper) client(token string) *cartclient.Client {
	out := config.OutboundConfig{
		Timeout:             s.timeout,
		RetryMaxAttempts:    3,
		RetryBase:           200 * time.Millisecond,
		RetryJitter:         0.2,
		CircuitMinRequests:  5,
		CircuitFailureRatio: 0.5,
		CircuitOpenFor:      30 * time.Second,
	}
	return &cartclient.Client{
		BaseURL: s.apiURL,
		Token:   token,
		Reads:   app.OutboundClient(out, "cart-api", out.RetryMaxAttempts, s.logger),
		Writes:  app.OutboundClient(out, "cart-api", 1, s.logger),
	}
}

func (s *shopper) anonymous() (*cart.AnonymousStore, error) {
	owner, err := s.ownerKey()
	if err != nil {
		return nil, err
	}
	return cart.OpenAnonymous(s.storage, owner)
}

// store returns the cart the shopper currently works with: the server cart when signed
// in, the guest cart otherwise.
func (s *shopper) store(ctx context.Context) (cart.Store, error) {
	sess, ok, err := s.session()
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.anonymous()
	}
	if sess.APIURL != "" {
		s.apiURL = sess.APIURL
	}
	authed := cart.NewAuthenticated(s.client(sess.Token))
	if _, err := authed.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load server cart: %w", err)
	}
	return authed, nil
}

// login merges the guest cart into the account behind token. The session is only stored
// after a successful merge, so a failed login can simply be retried.
func (s *shopper) login(ctx context.Context, token, userID string) (cart.SyncResult, error) {
	anon, err := s.anonymous()
	if err != nil {
		return cart.SyncResult{}, err
	}
	authed := cart.NewAuthenticated(s.client(token))
	res, err := cart.NewReconciler(s.logger).Reconcile(ctx, anon, authed)
	if err != nil {
		return cart.SyncResult{}, err
	}
	sess := session{Token: token, UserID: userID, APIURL: s.apiURL, Since: time.Now().UTC()}
	if err := s.saveJSON(sessionKey, sess); err != nil {
		return cart.SyncResult{}, fmt.Errorf("store session: %w", err)
	}
	return res, nil
}

func (s *shopper) logout() error {
	return s.storage.Remove(sessionKey)
}
