package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/user"
)

var (
	// ErrInvalidKey is returned for unknown, malformed or disabled credentials.
	ErrInvalidKey = apperr.Unauthorized("invalid api key")
	// ErrKeyNotFound is returned by a Repository when no key has the hash.
	ErrKeyNotFound = apperr.NotFound("api key not found")
)

// Authenticator turns a raw API key into a Principal.
type Authenticator struct {
	keys   Repository
	users  user.Directory
	pepper []byte
}

// NewAuthenticator creates an Authenticator hashing keys with pepper.
func NewAuthenticator(keys Repository, users user.Directory, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, users: users, pepper: pepper}
}

// Authenticate hashes rawKey, looks it up, and resolves the owning account.
// The account must exist and be active.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (Principal, error) {
	if rawKey == "" {
		return Principal{}, ErrInvalidKey
	}
	hexHash := HashKey(a.pepper, rawKey)

	info, err := a.keys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Principal{}, ErrInvalidKey
		}
		return Principal{}, errors.Wrap(err, "find api key")
	}

	// The stored hash is compared again in constant time in case the lookup
	// matched on something other than the exact hash.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return Principal{}, ErrInvalidKey
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return Principal{}, ErrInvalidKey
	}

	u, err := a.users.GetByID(ctx, info.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return Principal{}, ErrInvalidKey
		}
		return Principal{}, errors.Wrap(err, "resolve key owner")
	}
	if !u.Active {
		return Principal{}, ErrInvalidKey
	}

	return Principal{
		UserID: u.ID,
		Role:   u.Role,
		KeyID:  info.ID,
		Scopes: info.Scopes,
	}, nil
}
