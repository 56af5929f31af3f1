// Package auth выпускает и проверяет токены доступа. Токен несёт
// идентификатор клиента и роль; отзыв по logout хранится во внешнем
// TokenRevocationStore до истечения токена.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
)

const (
	// DefaultIssuer - издатель токенов по умолчанию.
	DefaultIssuer = "storefront-oms"
	// DefaultTTL - время жизни токена по умолчанию.
	DefaultTTL = 24 * time.Hour
)

var (
	// ErrInvalidToken - подпись, формат, издатель или срок токена некорректны.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	// ErrSecretRequired - менеджер нельзя создать без ключа подписи.
	ErrSecretRequired = errors.New("jwt secret is required")
)

// Claims - полезная нагрузка токена.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Config задаёт параметры подписи и проверки.
type Config struct {
	Secret string
	Issuer string
	// AllowedIssuers дополняет Issuer при проверке.
	AllowedIssuers []string
	TTL            time.Duration
}

// Manager выпускает, проверяет и отзывает токены.
type Manager struct {
	secret      []byte
	issuer      string
	allowed     []string
	ttl         time.Duration
	revocations domain.TokenRevocationStore
	now         func() time.Time
}

// Option настраивает Manager.
type Option func(*Manager)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager создаёт менеджер токенов. revocations может быть nil,
// тогда отзыв не поддерживается и Revoke ничего не делает.
func NewManager(cfg Config, revocations domain.TokenRevocationStore, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrSecretRequired
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	allowed := []string{issuer}
	for _, iss := range cfg.AllowedIssuers {
		iss = strings.TrimSpace(iss)
		if iss != "" && !slices.Contains(allowed, iss) {
			allowed = append(allowed, iss)
		}
	}

	m := &Manager{
		secret:      []byte(cfg.Secret),
		issuer:      issuer,
		allowed:     allowed,
		ttl:         ttl,
		revocations: revocations,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue подписывает токен для клиента с указанной ролью.
func (m *Manager) Issue(clientID, role string) (string, Claims, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", Claims{}, domain.ErrClientIDRequired
	}

	now := m.now()
	claims := Claims{
		Role: strings.TrimSpace(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   clientID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse проверяет подпись, алгоритм, издателя, срок действия и наличие jti,
// но не отзыв.
func (m *Manager) Parse(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if !slices.Contains(m.allowed, claims.Issuer) {
		return Claims{}, fmt.Errorf("%w: issuer %q is not allowed", ErrInvalidToken, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: subject is empty", ErrInvalidToken)
	}
	// Без jti токен нельзя отозвать.
	if strings.TrimSpace(claims.ID) == "" {
		return Claims{}, fmt.Errorf("%w: token id is empty", ErrInvalidToken)
	}
	return claims, nil
}

// Verify возвращает вызывающего по токену. Отозванный токен отклоняется
// с ErrTokenRevoked.
func (m *Manager) Verify(ctx context.Context, raw string) (domain.Caller, error) {
	claims, err := m.Parse(raw)
	if err != nil {
		return domain.Caller{}, err
	}

	if m.revocations != nil {
		revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return domain.Caller{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return domain.Caller{}, domain.ErrTokenRevoked
		}
	}

	return domain.Caller{
		ClientID: claims.Subject,
		Role:     claims.Role,
		TokenID:  claims.ID,
	}, nil
}

// Revoke отзывает токен до истечения его срока.
func (m *Manager) Revoke(ctx context.Context, raw string) error {
	claims, err := m.Parse(raw)
	if err != nil {
		return err
	}
	if m.revocations == nil {
		return nil
	}
	return m.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
