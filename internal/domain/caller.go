package domain

import "context"

// RoleAdmin даёт доступ к заказам любых клиентов.
const RoleAdmin = "admin"

// Caller - проверенная идентичность, которую передаёт граница доступа.
type Caller struct {
	// ClientID - subject токена, владелец заказов.
	ClientID string
	Role     string
	// TokenID - jti токена, по нему выполняется отзыв.
	TokenID string
}

// IsAdmin сообщает, что вызывающий может работать с чужими заказами.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanAccess проверяет доступ вызывающего к заказам клиента.
func (c Caller) CanAccess(clientID string) bool {
	return c.IsAdmin() || (c.ClientID != "" && c.ClientID == clientID)
}

type callerKey struct{}

// WithCaller прикрепляет идентичность к контексту запроса.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext возвращает идентичность, если граница доступа её установила.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || caller.ClientID == "" {
		return Caller{}, false
	}
	return caller, true
}
