package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/thematic-predictions/internal"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = time.Hour

// RSATokenGenerator issues RS256 admin tokens. A generator built from a
// public key only can validate but not sign.
type RSATokenGenerator struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

// NewRSATokenGenerator builds a generator from the security section of the config.
func NewRSATokenGenerator(cfg internal.SecurityConfig) (*RSATokenGenerator, error) {
	publicKey, err := cfg.GetPublicKey()
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}

	var privateKey *rsa.PrivateKey
	if cfg.JWTPrivateKey != "" {
		privateKey, err = cfg.GetPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
	}

	return NewRSATokenGeneratorFromKeys(privateKey, publicKey, cfg.TokenIssuer, cfg.AdminTokenDuration), nil
}

func NewRSATokenGeneratorFromKeys(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, issuer string, ttl time.Duration) *RSATokenGenerator {
	if publicKey == nil && privateKey != nil {
		publicKey = &privateKey.PublicKey
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &RSATokenGenerator{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
}

// GenerateToken creates a signed token for subject carrying role
func (g *RSATokenGenerator) GenerateToken(subject, role string) (string, time.Time, error) {
	if g.privateKey == nil {
		return "", time.Time{}, errors.New("token signing requires a private key")
	}

	issuedAt := g.now()
	expiresAt := issuedAt.Add(g.ttl)

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(g.privateKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a token and returns its claims
func (g *RSATokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(g.now)}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.publicKey, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired.WithCause(err)
		}
		return nil, internal.ErrInvalidToken.WithCause(err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, internal.ErrInvalidToken
}
