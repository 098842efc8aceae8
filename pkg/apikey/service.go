package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/wiggzz/diogenes/pkg/statestore"
)

// KeyPrefix is prepended to every raw token. The bearer-auth gate checks
// the configured API_KEY_PREFIX (default "dio-", the same value) before
// hashing and looking a token up.
const KeyPrefix = "dio-"

// keySecretBytes is the amount of random entropy encoded into each token.
const keySecretBytes = 24

// Service implements key creation, listing, and deletion against the shared
// state store.
type Service struct {
	store  statestore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service backed by store.
func NewService(store statestore.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// HashAPIKey returns the lowercase hex SHA-256 of the raw token's UTF-8 bytes.
func HashAPIKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateKey mints a new bearer token, persists its hash, and returns the raw
// token exactly once. The raw token is never derivable from storage again.
func (s *Service) CreateKey(ctx context.Context, email, name string) (CreateResponse, error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return CreateResponse{}, fmt.Errorf("apikey: generating token: %w", err)
	}
	raw := KeyPrefix + base64.RawURLEncoding.EncodeToString(secret)
	hash := HashAPIKey(raw)

	now := s.now().Unix()
	key := statestore.ApiKey{
		KeyHash:    hash,
		Email:      email,
		Name:       name,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := s.store.PutApiKey(ctx, key); err != nil {
		return CreateResponse{}, fmt.Errorf("apikey: storing key: %w", err)
	}

	return CreateResponse{
		Key:        raw,
		KeyID:      hash,
		Name:       name,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// ListKeys returns metadata only, sorted by created_at descending. No raw
// tokens are ever returned here.
func (s *Service) ListKeys(ctx context.Context, email string) ([]Response, error) {
	keys, err := s.store.ListApiKeys(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("apikey: listing keys: %w", err)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt > keys[j].CreatedAt })

	out := make([]Response, 0, len(keys))
	for _, k := range keys {
		out = append(out, Response{
			KeyID:      k.KeyHash,
			Name:       k.Name,
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
		})
	}
	return out, nil
}

// DeleteKey is a no-op if the key is absent or owned by a different email;
// otherwise it deletes the row and reports whether a deletion happened.
func (s *Service) DeleteKey(ctx context.Context, keyID, requestingEmail string) (bool, error) {
	key, err := s.store.GetApiKey(ctx, keyID)
	if err != nil {
		if err == statestore.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("apikey: looking up key: %w", err)
	}
	if key.Email != requestingEmail {
		return false, nil
	}
	if err := s.store.DeleteApiKey(ctx, keyID); err != nil {
		return false, fmt.Errorf("apikey: deleting key: %w", err)
	}
	return true, nil
}
