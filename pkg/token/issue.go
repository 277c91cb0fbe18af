package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Lifetime is how long an issued token stays valid.
const Lifetime = 30 * time.Minute

// NewClaims builds the claim set for a single device grant, expiring exactly
// Lifetime after now.
func NewClaims(deviceID, issuer, subject string, now time.Time) (*Claims, error) {
	return newClaims(DeviceGrant, deviceID, issuer, subject, now)
}

func newClaims(grant func(string) string, deviceID, issuer, subject string, now time.Time) (*Claims, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, missing("issuer")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, missing("subject")
	}
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
		},
		Grants: []string{grant(deviceID)},
	}, nil
}

// Issue returns a compact HS256 token granting subject access to deviceID.
// The result depends only on the arguments.
func Issue(deviceID, issuer, subject string, secret []byte, now time.Time) (string, error) {
	return sign(DeviceGrant, deviceID, issuer, subject, secret, now)
}

// IssueAgent returns a token for the agent running on deviceID itself. It
// carries only the agent grant, so it cannot be used to call the device.
func IssueAgent(deviceID, issuer, subject string, secret []byte, now time.Time) (string, error) {
	return sign(AgentGrant, deviceID, issuer, subject, secret, now)
}

func sign(grant func(string) string, deviceID, issuer, subject string, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", missing("secret")
	}
	claims, err := newClaims(grant, deviceID, issuer, subject, now)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Issuer holds the identity and key used to mint tokens for many devices.
type Issuer struct {
	Issuer  string
	Subject string
	Secret  []byte
}

func (i Issuer) Issue(deviceID string, now time.Time) (string, error) {
	return Issue(deviceID, i.Issuer, i.Subject, i.Secret, now)
}
