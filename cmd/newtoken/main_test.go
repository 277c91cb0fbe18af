package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domino14/devgrant/pkg/token"
)

func TestRunPrintsOneToken(t *testing.T) {
	t.Setenv("DEVICE_ID", "dev-42")
	t.Setenv("JWT_ISSUER", "svc-a")
	t.Setenv("JWT_SUBJECT", "svc-a-client")
	t.Setenv("JWT_SECRET", "s3cr3t")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	require.NoError(t, run(nil, now, &out))

	want, err := token.Issue("dev-42", "svc-a", "svc-a-client", []byte("s3cr3t"), now)
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out.String())
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestRunFlags(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cr3t")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	err := run([]string{"-device-id", "dev-7", "-jwt-issuer", "svc-a", "-jwt-subject", "ops"}, now, &out)
	require.NoError(t, err)

	v, err := token.NewVerifier([]byte("s3cr3t"), token.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	claims, err := v.Authorize(strings.TrimSpace(out.String()), "dev-7")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

func TestRunAgent(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cr3t")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	err := run([]string{"-agent", "-device-id", "dev-7", "-jwt-issuer", "svc-a", "-jwt-subject", "dev-7-agent"}, now, &out)
	require.NoError(t, err)

	v, err := token.NewVerifier([]byte("s3cr3t"), token.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	tok := strings.TrimSpace(out.String())
	_, err = v.AuthorizeAgent(tok, "dev-7")
	require.NoError(t, err)
	_, err = v.Authorize(tok, "dev-7")
	assert.ErrorIs(t, err, token.ErrGrantMissing)
}

func TestRunMissingSecret(t *testing.T) {
	t.Setenv("DEVICE_ID", "dev-42")
	t.Setenv("JWT_ISSUER", "svc-a")
	t.Setenv("JWT_SUBJECT", "svc-a-client")
	t.Setenv("JWT_SECRET", "")

	var out bytes.Buffer
	err := run(nil, time.Now(), &out)
	var cerr *token.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "secret", cerr.Field)
	assert.Empty(t, out.String())
}
