package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

// Издатели разделяют токены сессии и share-токены: один не принимается вместо другого.
const (
	IssuerSession = "msp-console"
	IssuerShare   = "msp-console-share"
)

var ErrInvalidToken = errors.New("invalid token")

// BaseValidator содержит общую логику проверки RS256
type BaseValidator struct {
	publicKey *rsa.PublicKey
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{publicKey: pubKey}
}

// VerifyToken проверяет токен сессии (Authorization: Bearer ...).
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	claims := &domain.CustomClaims{}
	if err := v.parse(tokenStr, claims, IssuerSession); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing user or role", ErrInvalidToken)
	}
	if !claims.Role.Known() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if claims.Role == domain.RoleCustomer && claims.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer role without customer_id", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyShareToken проверяет share-токен и возвращает клиента, к которому он даёт доступ.
func (v *BaseValidator) VerifyShareToken(tokenStr string) (*domain.ShareClaims, error) {
	claims := &domain.ShareClaims{}
	if err := v.parse(tokenStr, claims, IssuerShare); err != nil {
		return nil, err
	}
	if claims.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing customer_id", ErrInvalidToken)
	}
	return claims, nil
}

func (v *BaseValidator) parse(tokenStr string, claims jwt.Claims, issuer string) error {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи (только для Console)
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
