package cache

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// KeyPrefix namespaces every preview entry in the store.
const KeyPrefix = "preview:"

// EncodeKey derives the cache key for a normalized URL.
func EncodeKey(normalizedURL string) string {
	return KeyPrefix + base64.StdEncoding.EncodeToString([]byte(normalizedURL))
}

// DecodeKey recovers the URL a key was derived from.
func DecodeKey(key string) (string, error) {
	encoded, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", fmt.Errorf("key %q lacks prefix %q", key, KeyPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode key %q: %w", key, err)
	}
	return string(raw), nil
}
