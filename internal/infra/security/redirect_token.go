package security

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
)

const (
	redirectIssuer   = "voice-summary-bot"
	redirectAudience = "paypal-redirect"

	// TokenParam is the query parameter carrying the signed token.
	TokenParam = "rt"
)

type redirectClaims struct {
	Phone string `json:"phn"`
	jwt.RegisteredClaims
}

// RedirectSigner issues and verifies the HS256 tokens embedded in the
// PayPal return URLs. The token binds the browser redirect to one user.
type RedirectSigner struct {
	secret    []byte
	ttl       time.Duration
	publicURL string
	now       func() time.Time
}

func NewRedirectSigner(secret, publicURL string, ttl time.Duration) (*RedirectSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("redirect secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedirectSigner{secret: []byte(secret), ttl: ttl, publicURL: publicURL, now: time.Now}, nil
}

func (s *RedirectSigner) Sign(phone string) (string, error) {
	now := s.now()
	claims := redirectClaims{
		Phone: phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    redirectIssuer,
			Audience:  jwt.ClaimStrings{redirectAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the phone bound to token. Every failure maps to
// ErrInvalidRedirectToken.
func (s *RedirectSigner) Verify(token string) (string, error) {
	if token == "" {
		return "", domain.ErrInvalidRedirectToken
	}
	var claims redirectClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(redirectIssuer),
		jwt.WithAudience(redirectAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Phone == "" {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidRedirectToken, err)
	}
	return claims.Phone, nil
}

// Links implements usecase.RedirectLinker.
func (s *RedirectSigner) Links(phone string) (adapter.RedirectLinks, error) {
	tok, err := s.Sign(phone)
	if err != nil {
		return adapter.RedirectLinks{}, err
	}
	q := url.Values{TokenParam: {tok}}.Encode()
	return adapter.RedirectLinks{
		SuccessURL: s.publicURL + "/paypal/success?" + q,
		CancelURL:  s.publicURL + "/paypal/cancel?" + q,
	}, nil
}
