package auth

import "errors"

// Authentication errors. Every one of them refuses the upgrade with 401.
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrMalformedToken   = errors.New("malformed token")
	ErrNoIdentityClaim  = errors.New("token carries no identity claim")
	ErrInvalidIdentity  = errors.New("identity claim is not a valid user ID")
	ErrInvalidSignature = errors.New("token signature or expiry rejected")
)
