package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/sync/semaphore"
)

// scrypt cost parameters shared by hashing and verification. Stored hashes
// carry only salt and key, so changing these invalidates every actor code.
const (
	scryptN      = 1 << 14
	scryptR      = 8
	scryptP      = 1
	saltBytes    = 16
	derivedBytes = 64
)

// Actor is one of the fixed administrative access codes.
type Actor struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	SecretHash string `json:"secret_hash"`
}

type credential struct {
	actor Actor
	salt  []byte
	key   []byte
}

// Registry verifies submitted codes against the configured actors.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	creds []credential
	byID  map[string]Actor
	sem   *semaphore.Weighted
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxConcurrentKDF caps how many scrypt derivations run at once.
func WithMaxConcurrentKDF(n int64) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewRegistry builds a registry. Actors with an empty hash are kept for
// lookups but can never authenticate.
func NewRegistry(actors []Actor, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{byID: make(map[string]Actor, len(actors))}
	for _, opt := range opts {
		opt(r)
	}
	for _, a := range actors {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate actor id %q", ErrInvalidInput, a.ID)
		}
		if strings.TrimSpace(a.Label) == "" {
			a.Label = a.ID
		}
		cred := credential{actor: a}
		if strings.TrimSpace(a.SecretHash) != "" {
			salt, key, err := parseSecretHash(a.SecretHash)
			if err != nil {
				return nil, fmt.Errorf("actor %q: %w", a.ID, err)
			}
			cred.salt, cred.key = salt, key
		}
		r.byID[a.ID] = a
		r.creds = append(r.creds, cred)
	}
	return r, nil
}

// Len reports how many actors are able to authenticate.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, c := range r.creds {
		if len(c.key) > 0 {
			n++
		}
	}
	return n
}

// Lookup returns the actor with the given id.
func (r *Registry) Lookup(id string) (Actor, bool) {
	if r == nil {
		return Actor{}, false
	}
	a, ok := r.byID[id]
	return a, ok
}

// Verify returns the first actor whose code matches. Every actor is derived
// and compared regardless of earlier matches so timing does not reveal which
// slot matched.
func (r *Registry) Verify(ctx context.Context, code string) (Actor, bool) {
	if r == nil || len(r.creds) == 0 || code == "" {
		return Actor{}, false
	}
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return Actor{}, false
		}
		defer r.sem.Release(1)
	}

	var (
		match Actor
		found bool
	)
	for i := range r.creds {
		c := &r.creds[i]
		if len(c.key) == 0 {
			continue
		}
		derived, err := scrypt.Key([]byte(code), c.salt, scryptN, scryptR, scryptP, len(c.key))
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(derived, c.key) == 1 && !found {
			match, found = c.actor, true
		}
	}
	return match, found
}

// HashCode derives a new "salt:hex" secret hash for code.
func HashCode(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("%w: code is empty", ErrInvalidInput)
	}
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	key, err := scrypt.Key([]byte(code), []byte(salt), scryptN, scryptR, scryptP, derivedBytes)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return salt + ":" + hex.EncodeToString(key), nil
}

// parseSecretHash splits "salt:hex". The salt is used as its literal bytes.
func parseSecretHash(value string) (salt, key []byte, err error) {
	saltPart, keyPart, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok || saltPart == "" || keyPart == "" || strings.Contains(keyPart, ":") {
		return nil, nil, ErrMalformedHash
	}
	key, err = hex.DecodeString(keyPart)
	if err != nil || len(key) == 0 {
		return nil, nil, ErrMalformedHash
	}
	return []byte(saltPart), key, nil
}
