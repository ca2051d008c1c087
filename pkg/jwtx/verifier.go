package jwtx

import "errors"

// Verifier validates an access token and returns its claims. The request gate
// only needs this much of the codec.
type Verifier interface {
	VerifyAccess(token string) (Claims, error)
}

var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrInvalidSignature = errors.New("jwtx: invalid signature")
	ErrExpired          = errors.New("jwtx: token expired")
	ErrNotYetValid      = errors.New("jwtx: token not yet valid")
	ErrIssuer           = errors.New("jwtx: issuer mismatch")
	ErrInvalidClaim     = errors.New("jwtx: invalid claims")
	ErrWrongTokenType   = errors.New("jwtx: wrong token type")
	ErrWeakSecret       = errors.New("jwtx: signing secret too short")
)
