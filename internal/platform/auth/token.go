package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medqr/medqr/internal/platform/access"
)

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// SubjectID returns the parsed subject. Verify guarantees it is a uuid.
func (c Claims) SubjectID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

// TokenErrorKind classifies a verification failure.
type TokenErrorKind int

const (
	TokenMalformed TokenErrorKind = iota + 1
	TokenExpired
	TokenSignatureInvalid
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenMalformed:
		return "malformed"
	case TokenExpired:
		return "expired"
	case TokenSignatureInvalid:
		return "signature_invalid"
	}
	return "unknown"
}

// TokenError is returned by Verify for any token that is not accepted.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
	}
	return "token " + e.Kind.String()
}

func (e *TokenError) Unwrap() error { return e.Err }

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Subject is what a token asserts about its bearer.
type Subject struct {
	ID   uuid.UUID
	Role access.Role
}

// TokenIssuer signs and verifies HS256 access tokens. It holds no per-token
// state; verification is pure computation over the token and the clock.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: cfg.Secret, issuer: cfg.Issuer, ttl: ttl, now: now}
}

// Issue signs a token for sub and returns it with its expiry.
func (t *TokenIssuer) Issue(sub Subject) (string, time.Time, error) {
	if sub.ID == uuid.Nil {
		return "", time.Time{}, errors.New("issue token: empty subject")
	}
	if !sub.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("issue token: unknown role %q", sub.Role)
	}

	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.ID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: string(sub.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates raw. The returned error is always a
// *TokenError.
func (t *TokenIssuer) Verify(raw string) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, classify(err)
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return Claims{}, &TokenError{Kind: TokenMalformed, Err: fmt.Errorf("subject: %w", err)}
	}
	if !access.Role(claims.Role).Valid() {
		return Claims{}, &TokenError{Kind: TokenMalformed, Err: fmt.Errorf("role %q", claims.Role)}
	}
	return claims, nil
}

func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: TokenExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &TokenError{Kind: TokenSignatureInvalid, Err: err}
	}
	return &TokenError{Kind: TokenMalformed, Err: err}
}
