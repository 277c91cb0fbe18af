package monitor

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domino14/devgrant/pkg/hub"
	"github.com/domino14/devgrant/pkg/token"
)

func TestURL(t *testing.T) {
	cases := []struct {
		server, want string
	}{
		{"ws://localhost:8087", "ws://localhost:8087/v1/monitor/device/dev-42"},
		{"http://localhost:8087/", "ws://localhost:8087/v1/monitor/device/dev-42"},
		{"https://api.example.com", "wss://api.example.com/v1/monitor/device/dev-42"},
	}
	for _, tc := range cases {
		got, err := URL(tc.server, "dev-42")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := URL("ftp://example.com", "dev-42")
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	secret := []byte("s3cr3t")
	v, err := token.NewVerifier(secret)
	require.NoError(t, err)
	h, err := hub.NewHub(v)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	iss := token.Issuer{Issuer: "svc-a", Subject: "svc-a-client", Secret: secret}
	tok, err := iss.Issue("dev-42", time.Now())
	require.NoError(t, err)

	statuses := make(chan hub.DeviceStatus, 4)
	watchCtx, stopWatch := context.WithCancel(ctx)
	errs := make(chan error, 1)
	go func() {
		errs <- Watch(watchCtx, srv.URL, "dev-42", tok, statuses)
	}()

	next := func() hub.DeviceStatus {
		select {
		case st := <-statuses:
			return st
		case err := <-errs:
			t.Fatalf("watch ended: %v", err)
		case <-time.After(3 * time.Second):
			t.Fatal("no status")
		}
		return hub.DeviceStatus{}
	}
	assert.False(t, next().Online)

	agent, err := token.IssueAgent("dev-42", "svc-a", "dev-42-agent", secret, time.Now())
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/devices/dev-42/call?role=device&token=" + agent
	device, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	st := next()
	assert.True(t, st.Online)
	assert.Equal(t, "dev-42", st.DeviceID)

	device.Close()
	assert.False(t, next().Online)

	stopWatch()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchUnauthorized(t *testing.T) {
	v, err := token.NewVerifier([]byte("s3cr3t"))
	require.NoError(t, err)
	h, err := hub.NewHub(v)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	tok, err := token.Issue("dev-42", "svc-a", "svc-a-client", []byte("wrong"), time.Now())
	require.NoError(t, err)
	err = Watch(ctx, srv.URL, "dev-42", tok, make(chan hub.DeviceStatus, 1))
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err)
}
