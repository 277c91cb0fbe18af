package config

import (
	"strings"
	"time"

	"github.com/namsral/flag"
)

// Config is shared by all binaries. Every flag can also be given as an
// environment variable, e.g. -jwt-secret as JWT_SECRET.
type Config struct {
	Debug bool

	DeviceID   string
	JWTIssuer  string
	JWTSubject string
	JWTSecret  string
	Agent      bool

	WebsocketAddress string
	AllowedOrigins   string
	Server           string

	TURNSecret string
	TURNURLs   string
	TURNTTL    time.Duration
}

// Load loads the configs from the given arguments
func (c *Config) Load(args []string) error {
	fs := flag.NewFlagSet("devgrant", flag.ContinueOnError)

	fs.BoolVar(&c.Debug, "debug", false, "debug logging on")
	fs.StringVar(&c.DeviceID, "device-id", "", "device the token grants access to")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "", "issuer (iss) of minted tokens; also the expected issuer when verifying")
	fs.StringVar(&c.JWTSubject, "jwt-subject", "", "subject (sub) of minted tokens")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "secret key must be a random unguessable string")
	fs.BoolVar(&c.Agent, "agent", false, "mint a token for the device's own agent instead of a caller")
	fs.StringVar(&c.WebsocketAddress, "ws-address", ":8087", "WS server listens on this address")
	fs.StringVar(&c.AllowedOrigins, "allowed-origins", "", "comma-separated list of allowed websocket origins; empty allows all")
	fs.StringVar(&c.Server, "server", "ws://localhost:8087", "signaling server base URL for clients")
	fs.StringVar(&c.TURNSecret, "turn-secret", "", "shared secret for TURN REST credentials; empty disables TURN")
	fs.StringVar(&c.TURNURLs, "turn-urls", "", "comma-separated TURN server URLs")
	fs.DurationVar(&c.TURNTTL, "turn-ttl", time.Hour, "lifetime of TURN credentials")
	return fs.Parse(args)
}

// Origins returns the allowed websocket origins.
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func (c *Config) TURNServerURLs() []string {
	return splitList(c.TURNURLs)
}

func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
