// Package monitor follows a device's online status on the signaling server.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/domino14/devgrant/pkg/hub"
)

// URL returns the monitor endpoint for deviceID under server. An http(s)
// server URL is turned into ws(s).
func URL(server, deviceID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	return u.String() + "/v1/monitor/device/" + url.PathEscape(deviceID), nil
}

// Watch connects to the monitor endpoint for deviceID and sends every status
// update to out. It returns when ctx is done or the server goes away.
func Watch(ctx context.Context, server, deviceID, tok string, out chan<- hub.DeviceStatus) error {
	endpoint, err := URL(server, deviceID)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	// Authenticate by sending the client auth token. This must be the very
	// first message on the WebSocket.
	auth := hub.Message{What: hub.MsgAuthToken, Body: tok}
	if err := conn.WriteMessage(websocket.TextMessage, auth.Bytes()); err != nil {
		return err
	}
	log.Debug().Str("url", endpoint).Msg("monitor-opened")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var cerr *websocket.CloseError
			if errors.As(err, &cerr) && cerr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		msg := hub.ParseMessage(data)
		switch msg.What {
		case hub.MsgDeviceStatus:
			var st hub.DeviceStatus
			if err := json.Unmarshal([]byte(msg.Body), &st); err != nil {
				log.Err(err).Msg("unmarshalling-status")
				continue
			}
			select {
			case out <- st:
			case <-ctx.Done():
				return ctx.Err()
			}
		case hub.MsgError:
			return errors.New(msg.Body)
		default:
			log.Debug().Str("what", msg.What).Msg("unexpected-monitor-message")
		}
	}
}
