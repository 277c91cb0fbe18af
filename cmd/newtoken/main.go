// Command newtoken prints a token that lets its subject connect to one device
// for the next 30 minutes. Configure it with DEVICE_ID, JWT_ISSUER,
// JWT_SUBJECT and JWT_SECRET or the matching flags. With -agent it prints
// the token the device's own agent joins with instead.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/domino14/devgrant/pkg/config"
	"github.com/domino14/devgrant/pkg/token"
)

func run(args []string, now time.Time, out io.Writer) error {
	cfg := &config.Config{}
	if err := cfg.Load(args); err != nil {
		return err
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	issue := token.Issue
	if cfg.Agent {
		issue = token.IssueAgent
	}
	s, err := issue(cfg.DeviceID, cfg.JWTIssuer, cfg.JWTSubject, []byte(cfg.JWTSecret), now)
	if err != nil {
		return err
	}
	log.Debug().Str("device", cfg.DeviceID).Str("sub", cfg.JWTSubject).Bool("agent", cfg.Agent).
		Time("exp", now.Add(token.Lifetime)).Msg("issued-token")
	_, err = fmt.Fprintln(out, s)
	return err
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := run(os.Args[1:], time.Now(), os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("cannot-issue-token")
	}
}
