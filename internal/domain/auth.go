package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role определяет, какую оболочку видит пользователь.
type Role string

const (
	RoleAdmin    Role = "admin"    // Все клиенты, синхронизация, share-ссылки
	RoleCustomer Role = "customer" // Только свой клиент
)

// Known: роль из закрытого списка; всё прочее не даёт никакого доступа.
func (r Role) Known() bool { return r == RoleAdmin || r == RoleCustomer }

type CustomClaims struct {
	UserID     string `json:"user_id"`
	Role       Role   `json:"role"`
	CustomerID string `json:"customer_id,omitempty"` // Для RoleCustomer
	jwt.RegisteredClaims
}

// ShareClaims: содержимое share-токена (доступ к одному клиенту без логина).
type ShareClaims struct {
	CustomerID string `json:"customer_id"`
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Никогда не отправляем на фронт
	Role         Role      `json:"role"`
	CustomerID   *string   `json:"customer_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ShareLink: ответ на генерацию share-ссылки.
type ShareLink struct {
	URL           string    `json:"url"`
	Token         string    `json:"token"`
	CustomerID    string    `json:"customer_id"`
	ExpiresInDays int       `json:"expires_in_days"`
	ExpiresAt     time.Time `json:"expires_at"`
}
