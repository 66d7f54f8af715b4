package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/nova/internal/domain"
)

const (
	apikeyPrefix = "nova:apikey:"
	apikeyIndex  = "nova:apikeys"
)

// StoredKey is a stored API key record, persisted either in the static
// config table or in Redis. It never carries the plaintext key.
type StoredKey struct {
	Name          string              `json:"name"`
	KeyHash       string              `json:"key_hash"`
	WorkspaceID   string              `json:"workspace_id"`
	WorkspaceName string              `json:"workspace_name"`
	Tier          string              `json:"tier"`
	Permissions   []domain.Permission `json:"permissions"`
	Enabled       bool                `json:"enabled"`
	ExpiresAt     *time.Time          `json:"expires_at"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (k *StoredKey) valid(now time.Time) bool {
	if !k.Enabled {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

func (k *StoredKey) principal(source string) *domain.Principal {
	return &domain.Principal{
		Authenticated:   true,
		WorkspaceID:     k.WorkspaceID,
		WorkspaceName:   k.WorkspaceName,
		CredentialLabel: "apikey:" + k.Name,
		Tier:            k.Tier,
		Permissions:     domain.NewPermissionSet(k.Permissions...),
		Metadata:        map[string]any{"source": source},
	}
}

// StaticVerifier performs a lookup of a credential hash against a
// fixed, config-loaded table of API keys (spec.md §4.1's "static table"
// variant, grounded on original_source's StaticKeyAuthProvider).
// Entries are never mutated after construction; rotating keys means
// reloading config, not calling into this type.
type StaticVerifier struct {
	byHash map[string]*StoredKey
}

// StaticKeyConfig is one entry of the configured static key table.
type StaticKeyConfig struct {
	Name          string
	Key           string
	WorkspaceID   string
	WorkspaceName string
	Tier          string
	Permissions   []domain.Permission
}

// NewStaticVerifier indexes the configured keys by their SHA-256 hash.
func NewStaticVerifier(entries []StaticKeyConfig) *StaticVerifier {
	v := &StaticVerifier{byHash: make(map[string]*StoredKey, len(entries))}
	for _, e := range entries {
		v.byHash[hashAPIKey(e.Key)] = &StoredKey{
			Name:          e.Name,
			WorkspaceID:   e.WorkspaceID,
			WorkspaceName: e.WorkspaceName,
			Tier:          e.Tier,
			Permissions:   e.Permissions,
			Enabled:       true,
			CreatedAt:     time.Now(),
		}
	}
	return v
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(_ context.Context, credential string) *domain.Principal {
	hash := hashAPIKey(credential)
	sk, ok := v.byHash[hash]
	if !ok || !sk.valid(time.Now()) {
		logRejected("static", "no matching key", credential)
		return nil
	}
	return sk.principal("static")
}

// RedisVerifier resolves credentials against keys persisted by an
// APIKeyStore. Unlike StaticVerifier its table can be rotated at
// runtime through Create/Revoke/Delete without a config reload.
type RedisVerifier struct {
	store *APIKeyStore
}

// NewRedisVerifier builds a RedisVerifier backed by store.
func NewRedisVerifier(store *APIKeyStore) *RedisVerifier {
	return &RedisVerifier{store: store}
}

// Verify implements Verifier.
func (v *RedisVerifier) Verify(ctx context.Context, credential string) *domain.Principal {
	keyHash := hashAPIKey(credential)
	sk, err := v.store.getByHash(ctx, keyHash)
	if err != nil || sk == nil || !sk.valid(time.Now()) {
		logRejected("redis", "no matching key", credential)
		return nil
	}
	return sk.principal("redis")
}

// hashAPIKey creates a SHA256 hash of the API key.
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// APIKeyStore manages API keys in Redis: creation, listing, and
// revocation. It is the mutable counterpart to StaticVerifier's
// immutable table.
type APIKeyStore struct {
	redis *redis.Client
}

// NewAPIKeyStore creates a new API key store.
func NewAPIKeyStore(redis *redis.Client) *APIKeyStore {
	return &APIKeyStore{redis: redis}
}

// Create creates a new API key and returns the plaintext key. The
// plaintext is returned exactly once and never stored.
func (s *APIKeyStore) Create(ctx context.Context, name, workspaceID, workspaceName string, perms []domain.Permission) (string, error) {
	key := generateAPIKey()
	keyHash := hashAPIKey(key)

	existing, _ := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if existing != "" {
		return "", fmt.Errorf("API key with name '%s' already exists", name)
	}

	sk := StoredKey{
		Name:          name,
		KeyHash:       keyHash,
		WorkspaceID:   workspaceID,
		WorkspaceName: workspaceName,
		Permissions:   perms,
		Enabled:       true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	data, err := json.Marshal(sk)
	if err != nil {
		return "", err
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, apikeyPrefix+keyHash, data, 0)
	pipe.HSet(ctx, apikeyIndex, name, keyHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}

	return key, nil
}

// Get retrieves an API key by name.
func (s *APIKeyStore) Get(ctx context.Context, name string) (*StoredKey, error) {
	keyHash, err := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("API key not found: %s", name)
	}
	if err != nil {
		return nil, err
	}
	return s.getByHash(ctx, keyHash)
}

func (s *APIKeyStore) getByHash(ctx context.Context, keyHash string) (*StoredKey, error) {
	data, err := s.redis.Get(ctx, apikeyPrefix+keyHash).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sk StoredKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// List returns all API keys.
func (s *APIKeyStore) List(ctx context.Context) ([]*StoredKey, error) {
	hashes, err := s.redis.HGetAll(ctx, apikeyIndex).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]*StoredKey, 0, len(hashes))
	for _, hash := range hashes {
		sk, err := s.getByHash(ctx, hash)
		if err != nil || sk == nil {
			continue
		}
		keys = append(keys, sk)
	}

	return keys, nil
}

// Revoke disables an API key without deleting its record.
func (s *APIKeyStore) Revoke(ctx context.Context, name string) error {
	sk, err := s.Get(ctx, name)
	if err != nil {
		return err
	}

	sk.Enabled = false
	sk.UpdatedAt = time.Now()

	data, err := json.Marshal(sk)
	if err != nil {
		return err
	}

	return s.redis.Set(ctx, apikeyPrefix+sk.KeyHash, data, 0).Err()
}

// Delete removes an API key permanently.
func (s *APIKeyStore) Delete(ctx context.Context, name string) error {
	keyHash, err := s.redis.HGet(ctx, apikeyIndex, name).Result()
	if err == redis.Nil {
		return fmt.Errorf("API key not found: %s", name)
	}
	if err != nil {
		return err
	}

	pipe := s.redis.Pipeline()
	pipe.Del(ctx, apikeyPrefix+keyHash)
	pipe.HDel(ctx, apikeyIndex, name)
	_, err = pipe.Exec(ctx)
	return err
}

// generateAPIKey creates a random API key with sk_ prefix.
func generateAPIKey() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 24)
	randomBytes := make([]byte, 24)
	rand.Read(randomBytes)
	for i := range b {
		b[i] = charset[randomBytes[i]%byte(len(charset))]
	}
	return "sk_" + string(b)
}

// VerifyAPIKey checks if a plaintext key matches a hash, in constant time.
func VerifyAPIKey(plaintext, hash string) bool {
	computed := hashAPIKey(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
