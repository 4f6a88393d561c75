package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyPrefix = "ftk"

// APIKey is a stored ingest credential. Only the bcrypt hash of the secret is kept.
type APIKey struct {
	ID         string
	OrgID      string
	Name       string
	SecretHash []byte
	Revoked    bool
	CreatedAt  time.Time
}

// KeyStore loads API keys by key id.
type KeyStore interface {
	GetAPIKey(ctx context.Context, keyID string) (*APIKey, error)
}

// Principal is the machine identity behind an ingest request.
type Principal struct {
	OrgID string
	KeyID string
}

type cachedKey struct {
	principal Principal
	expires   time.Time
}

// APIKeyAuthenticator verifies `ftk_<keyid>_<secret>` tokens against stored bcrypt hashes.
// Successful verifications are cached by a sha256 of the full token so bcrypt runs once per TTL.
type APIKeyAuthenticator struct {
	store  KeyStore
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedKey
}

// NewAPIKeyAuthenticator constructs an authenticator. ttl <= 0 disables the cache.
func NewAPIKeyAuthenticator(store KeyStore, ttl time.Duration, logger *log.Logger) *APIKeyAuthenticator {
	if logger == nil {
		logger = log.Default()
	}
	return &APIKeyAuthenticator{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cachedKey),
	}
}

// Authenticate resolves the principal for a raw token.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	if a == nil || a.store == nil {
		return Principal{}, errors.New("auth: api key store not configured")
	}
	keyID, secret, err := ParseAPIKey(token)
	if err != nil {
		return Principal{}, err
	}
	digest := tokenDigest(token)
	now := a.now()
	if principal, ok := a.cached(digest, now); ok {
		return principal, nil
	}

	key, err := a.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return Principal{}, err
	}
	if key == nil {
		return Principal{}, ErrInvalidKey
	}
	if key.Revoked {
		return Principal{}, ErrRevokedKey
	}
	if err := bcrypt.CompareHashAndPassword(key.SecretHash, []byte(secret)); err != nil {
		return Principal{}, ErrInvalidKey
	}
	principal := Principal{OrgID: key.OrgID, KeyID: key.ID}
	if a.ttl > 0 {
		a.mu.Lock()
		a.cache[digest] = cachedKey{principal: principal, expires: now.Add(a.ttl)}
		a.mu.Unlock()
	}
	return principal, nil
}

// Forget drops cached verifications of a key, e.g. after revocation.
func (a *APIKeyAuthenticator) Forget(keyID string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for digest, entry := range a.cache {
		if entry.principal.KeyID == keyID {
			delete(a.cache, digest)
		}
	}
}

func (a *APIKeyAuthenticator) cached(digest string, now time.Time) (Principal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[digest]
	if !ok {
		return Principal{}, false
	}
	if !now.Before(entry.expires) {
		delete(a.cache, digest)
		return Principal{}, false
	}
	return entry.principal, true
}

// Wrap authenticates bulk ingest requests and stores the org identity in context.
func (a *APIKeyAuthenticator) Wrap(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-API-Key"))
		}
		if token == "" {
			http.Error(w, "missing api key", http.StatusUnauthorized)
			return
		}
		principal, err := a.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidKey) && !errors.Is(err, ErrRevokedKey) {
				a.logger.Printf("auth: api key lookup: %v", err)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := WithIdentity(r.Context(), principal.OrgID, RoleIngest, "apikey:"+principal.KeyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseAPIKey splits a token into key id and secret.
func ParseAPIKey(token string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(token), "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", ErrInvalidKey
	}
	return parts[1], parts[2], nil
}

// GenerateAPIKey creates a new credential. The returned token is shown once; only the hash is stored.
func GenerateAPIKey(orgID, name string) (string, APIKey, error) {
	if orgID == "" {
		return "", APIKey{}, errors.New("auth: empty org id")
	}
	keyID, err := randomHex(8)
	if err != nil {
		return "", APIKey{}, err
	}
	secret, err := randomHex(24)
	if err != nil {
		return "", APIKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", APIKey{}, err
	}
	key := APIKey{
		ID:         keyID,
		OrgID:      orgID,
		Name:       name,
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	return apiKeyPrefix + "_" + keyID + "_" + secret, key, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
