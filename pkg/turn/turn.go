// Package turn hands out time-limited TURN credentials using the shared
// secret REST scheme understood by coturn (use-auth-secret).
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// Credential is marshalled as a WebRTC RTCIceServer entry.
type Credential struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

type Provider struct {
	secret []byte
	urls   []string
	ttl    time.Duration
}

func New(secret []byte, urls []string, ttl time.Duration) (*Provider, error) {
	if len(secret) == 0 {
		return nil, errors.New("turn secret is empty")
	}
	if len(urls) == 0 {
		return nil, errors.New("no turn urls configured")
	}
	if ttl <= 0 {
		return nil, errors.New("turn ttl must be positive")
	}
	return &Provider{secret: secret, urls: urls, ttl: ttl}, nil
}

// Credential returns a credential for user that the TURN server accepts
// until now+ttl.
func (p *Provider) Credential(user string, now time.Time) Credential {
	username := strconv.FormatInt(now.Add(p.ttl).Unix(), 10)
	if user != "" {
		username += ":" + user
	}
	mac := hmac.New(sha1.New, p.secret)
	mac.Write([]byte(username))
	return Credential{
		URLs:       append([]string(nil), p.urls...),
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}
