package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domino14/devgrant/pkg/config"
	"github.com/domino14/devgrant/pkg/hub"
)

func testModel(t *testing.T, cfg *config.Config) model {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return initialModel(ctx, cancel, cfg)
}

func typeID(t *testing.T, m model, id string) (model, tea.Cmd) {
	t.Helper()
	m.textInput.SetValue(id)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(model), cmd
}

func TestEnterRejectsBadDeviceID(t *testing.T) {
	m := testModel(t, &config.Config{JWTIssuer: "svc-a", JWTSubject: "ops", JWTSecret: "s3cr3t"})
	m, cmd := typeID(t, m, "bad:id")
	assert.Nil(t, cmd)
	assert.Empty(t, m.watching)
	assert.Contains(t, m.lastErr, "device id")
	assert.Contains(t, m.View(), "error:")
}

func TestEnterStartsWatch(t *testing.T) {
	m := testModel(t, &config.Config{JWTIssuer: "svc-a", JWTSubject: "ops", JWTSecret: "s3cr3t"})
	m, cmd := typeID(t, m, "dev-42")
	require.NotNil(t, cmd)
	assert.True(t, m.watching["dev-42"])
	assert.Contains(t, m.View(), "dev-42")
	assert.Contains(t, m.View(), "connecting")

	// Entering it again is a no-op.
	_, cmd = typeID(t, m, "dev-42")
	assert.Nil(t, cmd)
}

func TestMissingSecretEndsWatch(t *testing.T) {
	m := testModel(t, &config.Config{JWTIssuer: "svc-a", JWTSubject: "ops"})
	m, cmd := typeID(t, m, "dev-42")
	require.NotNil(t, cmd)

	ended, ok := cmd().(watchEndedMsg)
	require.True(t, ok)
	require.Error(t, ended.err)

	next, _ := m.Update(ended)
	m = next.(model)
	assert.Empty(t, m.watching)
	assert.Contains(t, m.lastErr, "secret")
}

func TestStatusUpdatesView(t *testing.T) {
	m := testModel(t, &config.Config{DeviceID: "dev-42"})
	assert.Equal(t, []string{"dev-42"}, m.initial)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next, cmd := m.Update(statusMsg(hub.DeviceStatus{DeviceID: "dev-42", Online: true, Since: since}))
	m = next.(model)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "online")

	next, _ = m.Update(statusMsg(hub.DeviceStatus{DeviceID: "dev-42", Online: false, Since: since}))
	assert.Contains(t, next.(model).View(), "offline")
}
