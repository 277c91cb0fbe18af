package turn

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential(t *testing.T) {
	p, err := New([]byte("north"), []string{"turn:turn.example:3478"}, time.Hour)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := p.Credential("svc-a-client", now)
	assert.Equal(t, "1704070800:svc-a-client", c.Username)
	assert.Equal(t, []string{"turn:turn.example:3478"}, c.URLs)
	assert.NotEmpty(t, c.Credential)

	// Same inputs, same password; another user gets another one.
	assert.Equal(t, c, p.Credential("svc-a-client", now))
	assert.NotEqual(t, c.Credential, p.Credential("svc-b", now).Credential)

	bare := p.Credential("", now)
	assert.Equal(t, "1704070800", bare.Username)

	bts, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"urls":["turn:turn.example:3478"],"username":"1704070800:svc-a-client","credential":"`+c.Credential+`"}`, string(bts))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, []string{"turn:x"}, time.Hour)
	assert.Error(t, err)
	_, err = New([]byte("s"), nil, time.Hour)
	assert.Error(t, err)
	_, err = New([]byte("s"), []string{"turn:x"}, 0)
	assert.Error(t, err)
}
