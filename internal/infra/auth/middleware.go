package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"go.uber.org/zap"
)

const (
	ShareTokenHeader = "X-Share-Token"
	ShareTokenQuery  = "share_token"
)

// TokenValidator: то, что нужно middleware от валидатора.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
	VerifyShareToken(tokenStr string) (*domain.ShareClaims, error)
}

// Principal: кто выполняет запрос и какую область данных он видит.
type Principal struct {
	UserID     string
	Role       domain.Role
	CustomerID string // Пусто = все клиенты (только admin)
	Shared     bool   // Доступ по share-токену
}

func (p Principal) IsAdmin() bool { return p.Role == domain.RoleAdmin && !p.Shared }

// Actor: подпись для аудита.
func (p Principal) Actor() string {
	if p.Shared {
		return "share:" + p.CustomerID
	}
	return p.UserID
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ShareToken достаёт share-токен из заголовка или query.
func ShareToken(r *http.Request) string {
	if t := r.Header.Get(ShareTokenHeader); t != "" {
		return t
	}
	return r.URL.Query().Get(ShareTokenQuery)
}

// NewMiddleware пускает запрос по share-токену либо по Bearer токену сессии.
// Невалидный share-токен — 403, отсутствие учётных данных — 401.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if share := ShareToken(r); share != "" {
				claims, err := v.VerifyShareToken(share)
				if err != nil {
					logger.Warn("share token rejected", zap.Error(err))
					deny(w, http.StatusForbidden, "invalid or expired share link")
					return
				}
				p := Principal{Role: domain.RoleCustomer, CustomerID: claims.CustomerID, Shared: true}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			p := Principal{UserID: claims.UserID, Role: claims.Role}
			if claims.Role != domain.RoleAdmin {
				// Пустой CustomerID означает "все клиенты": не-админу так нельзя
				if claims.CustomerID == "" {
					logger.Warn("non-admin session without customer scope", zap.String("user_id", claims.UserID))
					deny(w, http.StatusForbidden, "no customer scope")
					return
				}
				p.CustomerID = claims.CustomerID
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin закрывает маршрут для всех, кроме администраторов с сессией.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			deny(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !p.IsAdmin() {
			deny(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
