// Package redis хранит отозванные токены доступа в Redis. Запись живёт
// ровно до истечения токена и удаляется самим Redis по TTL.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

const (
	defaultKeyPrefix = "oms:revoked"
	opTimeout        = 2 * time.Second
)

// Options описывает подключение к Redis.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RevocationStore - реализация TokenRevocationStore поверх Redis.
type RevocationStore struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// Open подключается к Redis и проверяет соединение.
func Open(ctx context.Context, opts Options) (*RevocationStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	store := NewRevocationStore(client, opts.KeyPrefix)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// NewRevocationStore оборачивает готовый клиент.
func NewRevocationStore(client *goredis.Client, prefix string) *RevocationStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RevocationStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RevocationStore) key(tokenID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, tokenID)
}

// Revoke сохраняет jti с TTL до истечения токена. Уже истёкший токен не сохраняется.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(tokenID), expiresAt.UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := s.client.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return n > 0, nil
}

// Ping проверяет доступность Redis, используется health-проверкой.
func (s *RevocationStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (s *RevocationStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ domain.TokenRevocationStore = (*RevocationStore)(nil)
