// Package apikey implements key creation, validation, listing, and deletion
// against the shared state store. key_id in every external representation
// is the key_hash itself — there is no separately minted identifier.
package apikey

// CreateRequest is the JSON body for POST /api/keys.
type CreateRequest struct {
	Name string `json:"name"`
}

// Response is the JSON representation of a key's metadata, never its raw token.
type Response struct {
	KeyID      string `json:"key_id"`
	Name       string `json:"name"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at"`
}

// CreateResponse includes the raw key, returned exactly once at creation.
type CreateResponse struct {
	Key        string `json:"key"`
	KeyID      string `json:"key_id"`
	Name       string `json:"name"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at"`
}
