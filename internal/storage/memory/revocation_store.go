package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RevocationStore хранит отозванные jti до истечения срока жизни токена.
// Истёкшие записи убирает DeleteExpired, который вызывает cleanup-воркер;
// IsRevoked их уже не учитывает.
type RevocationStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	revoked map[string]time.Time
}

// NewRevocationStore создаёт in-memory хранилище отзывов.
func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

func (s *RevocationStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" || !expiresAt.After(s.now()) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.revoked[tokenID]; !ok || expiresAt.After(current) {
		s.revoked[tokenID] = expiresAt
	}
	return nil
}

func (s *RevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, ok := s.revoked[tokenID]
	return ok && expiresAt.After(s.now()), nil
}

// DeleteExpired удаляет отзывы токенов, истёкших к моменту before.
func (s *RevocationStore) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, expiresAt := range s.revoked {
		if limit > 0 && removed == limit {
			break
		}
		if !expiresAt.After(before) {
			delete(s.revoked, id)
			removed++
		}
	}
	return removed, nil
}

// Len возвращает число хранимых отзывов, включая ещё не вычищенные.
func (s *RevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.revoked)
}
