package cache

import "strings"

const prefix = "storefront:"

// SettingsKey is where the last good pricing settings document is kept.
func SettingsKey() string {
	return prefix + "settings:pricing"
}

// CartLockKey names the lock that serialises merges into one user's cart.
func CartLockKey(userID string) string {
	return prefix + "lock:cart:" + strings.TrimSpace(userID)
}
