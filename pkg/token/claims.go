// Package token builds and checks the short-lived HS256 tokens that let a
// client open a call to a single device.
package token

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// GrantPrefix is prepended to a device ID to form the grant that allows
// connecting to that device.
const GrantPrefix = "connect:device:"

// AgentGrantPrefix is prepended to a device ID to form the grant held by the
// device's own agent. Caller tokens never carry it.
const AgentGrantPrefix = "agent:device:"

// Claims is the claim set carried by a device token. The registered claims
// come first so the payload reads iss, sub, exp, grants.
type Claims struct {
	jwt.RegisteredClaims
	Grants []string `json:"grants"`
}

// DeviceGrant returns the grant string for connecting to deviceID.
func DeviceGrant(deviceID string) string {
	return GrantPrefix + deviceID
}

// AgentGrant returns the grant that lets a connection act as deviceID.
func AgentGrant(deviceID string) string {
	return AgentGrantPrefix + deviceID
}

// ValidateDeviceID rejects IDs that are empty or would make the grant (or the
// /devices/{id} path it is checked against) ambiguous.
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return &ConfigurationError{Field: "device id", Reason: "missing"}
	}
	if !utf8.ValidString(deviceID) {
		return &ConfigurationError{Field: "device id", Reason: "is not valid UTF-8"}
	}
	for _, r := range deviceID {
		switch {
		case r == ':', r == '/', r == '?', r == '#':
			return &ConfigurationError{Field: "device id", Reason: "contains " + string(r)}
		case unicode.IsSpace(r), unicode.IsControl(r):
			return &ConfigurationError{Field: "device id", Reason: "contains whitespace or control characters"}
		}
	}
	return nil
}

// HasGrant reports whether grant appears verbatim in the claims.
func (c *Claims) HasGrant(grant string) bool {
	for _, g := range c.Grants {
		if g == grant {
			return true
		}
	}
	return false
}

// CanConnect reports whether the claims allow connecting to deviceID.
func (c *Claims) CanConnect(deviceID string) bool {
	if deviceID == "" {
		return false
	}
	return c.HasGrant(DeviceGrant(deviceID))
}

// CanServe reports whether the claims allow acting as deviceID's agent.
func (c *Claims) CanServe(deviceID string) bool {
	if deviceID == "" {
		return false
	}
	return c.HasGrant(AgentGrant(deviceID))
}

// DeviceIDs lists the devices these claims grant access to, in grant order.
func (c *Claims) DeviceIDs() []string {
	ids := []string{}
	for _, g := range c.Grants {
		if id, ok := strings.CutPrefix(g, GrantPrefix); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

var (
	// ErrNoGrants is returned for a verified token that grants nothing.
	ErrNoGrants = errors.New("token carries no grants")
	// ErrGrantMissing is returned when a token does not grant the device asked for.
	ErrGrantMissing = errors.New("token does not grant access to device")
)
