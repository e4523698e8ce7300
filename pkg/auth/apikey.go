package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	apiKeyPrefix    = "sjscal:apikey:"
	apiKeySecretLen = 32
)

// APIKeyStore stores and validates API keys
type APIKeyStore interface {
	ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error)
	CreateKey(ctx context.Context, info APIKeyInfo) (string, error)
	RevokeKey(ctx context.Context, keyID string) error
	ListKeys(ctx context.Context, ownerID string) ([]APIKeyInfo, error)
}

// APIKeyInfo contains metadata about an API key
type APIKeyInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyHash   string `json:"key_hash,omitempty"` // SHA-256 of the key
	OwnerID   string `json:"owner_id"`
	Role      Role   `json:"role"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // 0 = never expires
	LastUsed  int64  `json:"last_used,omitempty"`
}

func (i *APIKeyInfo) expired(now time.Time) bool {
	return i.ExpiresAt > 0 && i.ExpiresAt < now.Unix()
}

// newKey fills in the generated fields of info and returns the plaintext key.
func newKey(info *APIKeyInfo) (string, error) {
	if _, err := ParseRole(string(info.Role)); err != nil {
		return "", err
	}
	secret := make([]byte, apiKeySecretLen)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	plainKey := "sk_" + hex.EncodeToString(secret)

	info.KeyHash = hashKey(plainKey)
	info.CreatedAt = time.Now().Unix()
	if info.ID == "" {
		idBytes := make([]byte, 8)
		_, _ = rand.Read(idBytes)
		info.ID = "key_" + hex.EncodeToString(idBytes)
	}
	return plainKey, nil
}

// RedisAPIKeyStore keeps key records in Redis, indexed by key hash, by ID and
// by owner.
type RedisAPIKeyStore struct {
	client *redis.Client
}

func NewRedisAPIKeyStore(client *redis.Client) *RedisAPIKeyStore {
	return &RedisAPIKeyStore{client: client}
}

// ValidateKey checks if an API key is valid and returns its info
func (s *RedisAPIKeyStore) ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error) {
	keyHash := hashKey(key)

	data, err := s.client.Get(ctx, apiKeyPrefix+keyHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to lookup key: %w", err)
	}

	var info APIKeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key info: %w", err)
	}

	now := time.Now()
	if info.expired(now) {
		return nil, ErrExpiredToken
	}

	info.LastUsed = now.Unix()
	if data, err := json.Marshal(info); err == nil {
		_ = s.client.Set(ctx, apiKeyPrefix+keyHash, data, redis.KeepTTL).Err()
	}

	return &info, nil
}

// CreateKey stores a new API key and returns the plaintext key (only shown once)
func (s *RedisAPIKeyStore) CreateKey(ctx context.Context, info APIKeyInfo) (string, error) {
	plainKey, err := newKey(&info)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key info: %w", err)
	}

	var ttl time.Duration
	if info.ExpiresAt > 0 {
		ttl = time.Until(time.Unix(info.ExpiresAt, 0))
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, apiKeyPrefix+info.KeyHash, data, ttl)
	pipe.Set(ctx, apiKeyPrefix+"id:"+info.ID, info.KeyHash, ttl)
	pipe.SAdd(ctx, apiKeyPrefix+"owner:"+info.OwnerID, info.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store key: %w", err)
	}

	return plainKey, nil
}

// RevokeKey removes an API key
func (s *RedisAPIKeyStore) RevokeKey(ctx context.Context, keyID string) error {
	keyHash, err := s.client.Get(ctx, apiKeyPrefix+"id:"+keyID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to lookup key: %w", err)
	}

	data, err := s.client.Get(ctx, apiKeyPrefix+keyHash).Bytes()
	if err != nil {
		return fmt.Errorf("failed to get key info: %w", err)
	}

	var info APIKeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to unmarshal key info: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, apiKeyPrefix+keyHash)
	pipe.Del(ctx, apiKeyPrefix+"id:"+keyID)
	pipe.SRem(ctx, apiKeyPrefix+"owner:"+info.OwnerID, keyID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	return nil
}

// ListKeys returns all keys for an owner without their hashes.
func (s *RedisAPIKeyStore) ListKeys(ctx context.Context, ownerID string) ([]APIKeyInfo, error) {
	keyIDs, err := s.client.SMembers(ctx, apiKeyPrefix+"owner:"+ownerID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keyIDs)

	var keys []APIKeyInfo
	for _, keyID := range keyIDs {
		keyHash, err := s.client.Get(ctx, apiKeyPrefix+"id:"+keyID).Result()
		if err != nil {
			continue // expired or revoked
		}

		data, err := s.client.Get(ctx, apiKeyPrefix+keyHash).Bytes()
		if err != nil {
			continue
		}

		var info APIKeyInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}

		info.KeyHash = ""
		keys = append(keys, info)
	}

	return keys, nil
}

// MemoryAPIKeyStore is the single-process key store.
type MemoryAPIKeyStore struct {
	mu     sync.Mutex
	byHash map[string]*APIKeyInfo
}

func NewMemoryAPIKeyStore() *MemoryAPIKeyStore {
	return &MemoryAPIKeyStore{byHash: make(map[string]*APIKeyInfo)}
}

func (s *MemoryAPIKeyStore) ValidateKey(_ context.Context, key string) (*APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.byHash[hashKey(key)]
	if !ok {
		return nil, ErrInvalidToken
	}
	now := time.Now()
	if info.expired(now) {
		return nil, ErrExpiredToken
	}
	info.LastUsed = now.Unix()
	out := *info
	return &out, nil
}

func (s *MemoryAPIKeyStore) CreateKey(_ context.Context, info APIKeyInfo) (string, error) {
	plainKey, err := newKey(&info)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.byHash[info.KeyHash] = &info
	s.mu.Unlock()
	return plainKey, nil
}

func (s *MemoryAPIKeyStore) RevokeKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, info := range s.byHash {
		if info.ID == keyID {
			delete(s.byHash, hash)
			return nil
		}
	}
	return ErrInvalidToken
}

func (s *MemoryAPIKeyStore) ListKeys(_ context.Context, ownerID string) ([]APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []APIKeyInfo
	for _, info := range s.byHash {
		if info.OwnerID == ownerID {
			out := *info
			out.KeyHash = ""
			keys = append(keys, out)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

// hashKey creates a SHA-256 hash of an API key
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
