package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/wiggzz/diogenes/pkg/statestore"
)

// hashAPIKey is deliberately duplicated from pkg/apikey.HashAPIKey rather
// than imported: the validate path and the create/list/delete path are
// independent collaborators sharing only the store, mirroring the original
// source's own split between auth.py and keys.py.
func hashAPIKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateAPIKey rejects empty tokens or tokens missing the bearer prefix
// without touching the store. On a hash hit it records last-used and
// returns the owner's email; on a miss it returns ok=false.
func ValidateAPIKey(ctx context.Context, store statestore.Store, prefix, token string) (ok bool, email string, err error) {
	if token == "" || !strings.HasPrefix(token, prefix) {
		return false, "", nil
	}

	hash := hashAPIKey(token)
	key, err := store.GetApiKey(ctx, hash)
	if err != nil {
		if err == statestore.ErrNotFound {
			return false, "", nil
		}
		return false, "", fmt.Errorf("auth: looking up api key: %w", err)
	}

	if err := store.UpdateApiKeyLastUsed(ctx, hash, time.Now().Unix()); err != nil {
		return false, "", fmt.Errorf("auth: updating last used: %w", err)
	}

	return true, key.Email, nil
}
