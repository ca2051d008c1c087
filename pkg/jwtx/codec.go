package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret NewCodec accepts.
const MinSecretLength = 32

// Codec issues and verifies HS256 tokens with a single process-wide secret.
// Rotating the secret invalidates every outstanding token.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

type CodecOption func(*Codec)

// WithClock overrides the trusted clock used for iat/exp.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// WithLeeway tolerates small clock skew on exp/nbf.
func WithLeeway(d time.Duration) CodecOption {
	return func(c *Codec) { c.leeway = d }
}

// NewCodec builds a codec. The secret is copied.
func NewCodec(secret []byte, issuer string, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	c.parser = jwt.NewParser(parserOpts...)

	return c, nil
}

// Now returns the codec's clock reading in UTC.
func (c *Codec) Now() time.Time { return c.now().UTC() }

// Issue signs claims with the given lifetime. If IssuedAt is unset the codec
// clock is used; exp is always IssuedAt + ttl.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("jwtx: ttl must be positive, got %s", ttl)
	}
	if err := claims.validate(); err != nil {
		return "", err
	}

	issuedAt := c.Now()
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}

	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(issuedAt)
	claims.NotBefore = jwt.NewNumericDate(issuedAt)
	claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))
	if claims.ID == "" {
		jti, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return "", err
		}
		claims.ID = jti
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(c.secret)
}

// Verify checks signature, expiry and issuer for either token type.
func (c *Codec) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	if err := claims.validate(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// VerifyAccess is Verify plus a type check for access tokens.
func (c *Codec) VerifyAccess(token string) (Claims, error) {
	return c.verifyType(token, TokenTypeAccess)
}

// VerifyRefresh is Verify plus a type check for refresh tokens.
func (c *Codec) VerifyRefresh(token string) (Claims, error) {
	return c.verifyType(token, TokenTypeRefresh)
}

func (c *Codec) verifyType(token string, want TokenType) (Claims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != want {
		return Claims{}, ErrWrongTokenType
	}
	return claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrInvalidClaim
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
