package service

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
)

// CustomerLookup подтверждает, что клиент существует, и отдаёт его канонический ключ.
type CustomerLookup interface {
	Customer(ctx context.Context, scope Scope, id string) (*domain.CustomerHealthRecord, error)
}

type ShareVerifier interface {
	VerifyShareToken(tokenStr string) (*domain.ShareClaims, error)
}

// ShareService выпускает подписанные ссылки на дашборд одного клиента.
type ShareService struct {
	customers   CustomerLookup
	privateKey  *rsa.PrivateKey
	verifier    ShareVerifier
	publicURL   string
	defaultDays int
	maxDays     int
	now         func() time.Time
}

func NewShareService(customers CustomerLookup, privateKey *rsa.PrivateKey, verifier ShareVerifier, publicURL string, cfg infra.ShareConfig) *ShareService {
	return &ShareService{
		customers:   customers,
		privateKey:  privateKey,
		verifier:    verifier,
		publicURL:   strings.TrimRight(publicURL, "/"),
		defaultDays: cfg.DefaultDays,
		maxDays:     cfg.MaxDays,
		now:         time.Now,
	}
}

// CreateLink: days == 0 означает срок по умолчанию.
func (s *ShareService) CreateLink(ctx context.Context, customerID string, days int) (*domain.ShareLink, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrInvalidCustomer
	}
	if days == 0 {
		days = s.defaultDays
	}
	if days < 1 || days > s.maxDays {
		return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidExpiry, days, s.maxDays)
	}

	rec, err := s.customers.Customer(ctx, Scope{}, customerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(days) * 24 * time.Hour)
	claims := &domain.ShareClaims{
		CustomerID: rec.CanonicalKey,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    auth.IssuerShare,
			Subject:   rec.CanonicalKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share token: %w", err)
	}

	return &domain.ShareLink{
		URL:           s.publicURL + "/s/" + url.PathEscape(token),
		Token:         token,
		CustomerID:    rec.CanonicalKey,
		ExpiresInDays: days,
		ExpiresAt:     expiresAt.UTC(),
	}, nil
}

func (s *ShareService) Verify(token string) (*domain.ShareClaims, error) {
	return s.verifier.VerifyShareToken(token)
}
