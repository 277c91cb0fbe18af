package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks device tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

type VerifierOption func(*Verifier)

// WithExpectedIssuer makes Verify reject tokens from any other issuer.
func WithExpectedIssuer(issuer string) VerifierOption {
	return func(v *Verifier) {
		v.issuer = issuer
	}
}

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

func NewVerifier(secret []byte, opts ...VerifierOption) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, missing("secret")
	}
	v := &Verifier{secret: secret, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.issuer))
	}
	v.parser = jwt.NewParser(popts...)
	return v, nil
}

// Verify checks the signature, algorithm and expiry of tokenString and
// returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if len(claims.Grants) == 0 {
		return nil, ErrNoGrants
	}
	return claims, nil
}

// Authorize verifies tokenString and requires it to grant deviceID.
func (v *Verifier) Authorize(tokenString, deviceID string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.CanConnect(deviceID) {
		return nil, fmt.Errorf("%w: %s", ErrGrantMissing, deviceID)
	}
	return claims, nil
}

// AuthorizeAgent verifies tokenString and requires the agent grant for
// deviceID.
func (v *Verifier) AuthorizeAgent(tokenString, deviceID string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.CanServe(deviceID) {
		return nil, fmt.Errorf("%w: agent for %s", ErrGrantMissing, deviceID)
	}
	return claims, nil
}
