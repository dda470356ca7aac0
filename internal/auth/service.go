// Package auth signs in merchants to the dashboard and guards dashboard routes
// with bearer access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/merchant"
)

const (
	defaultAccessTTL = 12 * time.Hour
	merchantClaim    = "merchant"
)

// dummyHash keeps the cost of a login for an unknown slug close to a real one.
var dummyHash, _ = argon2id.CreateHash("pedilo-dummy-password", argon2id.DefaultParams)

// Config configures the auth service.
type Config struct {
	Merchants      merchant.Querier
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
}

// Service verifies merchant credentials and issues access tokens.
type Service struct {
	merchants merchant.Querier
	secret    []byte
	accessTTL time.Duration
	issuer    string
	audience  string
	clockSkew time.Duration
	signer    jwa.SignatureAlgorithm
	validator TokenValidator
	now       func() time.Time
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Merchant    string    `json:"merchant"`
}

// Claims are the verified contents of an access token.
type Claims struct {
	MerchantID string
	Slug       string
	ExpiresAt  time.Time
}

// NewService validates cfg and fills defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Merchants == nil {
		return nil, errors.New("auth: merchant querier is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "pedilo-api"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "pedilo-dashboard"
	}
	skew := max(cfg.ClockSkew, 0)
	return &Service{
		merchants: cfg.Merchants,
		secret:    []byte(secret),
		accessTTL: ttl,
		issuer:    issuer,
		audience:  audience,
		clockSkew: skew,
		signer:    jwa.HS256,
		validator: TokenValidator{Issuer: issuer, Audience: audience, ClockSkew: skew, Algorithm: jwa.HS256},
		now:       time.Now,
	}, nil
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// HashPassword hashes a dashboard password with argon2id.
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}

func invalidCredentials() *common.AppError {
	return common.NewAppError("INVALID_CREDENTIALS", "invalid slug or password", http.StatusUnauthorized, nil)
}

// Login checks password against the merchant's stored hash and issues a token.
func (s *Service) Login(ctx context.Context, slug, password string) (LoginResult, error) {
	slug = merchant.NormalizeSlug(slug)
	if slug == "" || password == "" {
		return LoginResult{}, invalidCredentials()
	}
	m, err := s.merchants.GetMerchantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, merchant.ErrNotFound) {
			_, _ = argon2id.ComparePasswordAndHash(password, dummyHash)
			return LoginResult{}, invalidCredentials()
		}
		return LoginResult{}, fmt.Errorf("load merchant: %w", err)
	}
	if !m.Active || m.PasswordHash == "" {
		return LoginResult{}, invalidCredentials()
	}
	ok, err := argon2id.ComparePasswordAndHash(password, m.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, invalidCredentials()
	}
	token, expiresAt, err := s.signAccessToken(m)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	return LoginResult{AccessToken: token, ExpiresAt: expiresAt, Merchant: m.Slug}, nil
}

func (s *Service) signAccessToken(m merchant.Merchant) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	token, err := jwt.NewBuilder().
		Subject(m.ID).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(merchantClaim, m.Slug).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// ParseAccessToken verifies signature, algorithm, issuer, audience and expiry.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	unauthorized := func(err error) (Claims, error) {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return unauthorized(errNoToken)
	}
	alg, err := tokenAlgorithm(token)
	if err != nil {
		return unauthorized(err)
	}
	if alg != s.validator.Algorithm {
		return unauthorized(fmt.Errorf("unexpected token algorithm %s", alg))
	}
	parsed, err := jwt.ParseString(token, jwt.WithKey(alg, s.secret), jwt.WithValidate(false))
	if err != nil {
		return unauthorized(err)
	}
	if err := s.validator.Validate(parsed, alg, s.now()); err != nil {
		return unauthorized(err)
	}
	claims := Claims{MerchantID: parsed.Subject(), ExpiresAt: parsed.Expiration()}
	if v, ok := parsed.Get(merchantClaim); ok {
		claims.Slug, _ = v.(string)
	}
	if claims.MerchantID == "" {
		return unauthorized(errors.New("token has no subject"))
	}
	return claims, nil
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	msg, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 || sigs[0].ProtectedHeaders() == nil {
		return "", errors.New("auth: expected exactly one signature")
	}
	alg := sigs[0].ProtectedHeaders().Algorithm()
	if alg == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	return alg, nil
}
