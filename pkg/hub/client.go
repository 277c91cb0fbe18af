// Package hub is the signaling server that callers, device agents and status
// monitors connect to over websockets.
package hub

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid"
	"github.com/rs/zerolog/log"

	"github.com/domino14/devgrant/pkg/token"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 15 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 5 * time.Second

	// Time allowed for the auth-token message after the upgrade.
	authWait = 10 * time.Second

	// Maximum message size allowed from peer. SDP offers run to a few KB.
	maxMessageSize = 64 * 1024
)

var (
	ErrAuthRequired = errors.New("first message must be auth-token")
	ErrUnauthorized = errors.New("unauthorized")
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	sync.RWMutex
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed only by the hub.
	send chan []byte

	deviceID string
	role     Role
	subject  string
	connID   string

	forwardedFor string
	pongCount    int
	lastPingSent time.Time
	// The round-trip lag; it is a sort of average.
	avglag time.Duration
}

func (c *Client) handlePong(string) error {
	received := time.Now()
	c.RLock()
	curlag := received.Sub(c.lastPingSent)
	c.RUnlock()
	c.pongCount++
	var mix float64
	// Decaying average after the first four pongs. Thx lichess.
	if c.pongCount > 4 {
		mix = 0.1
	} else {
		mix = 1 / float64(c.pongCount)
	}
	c.avglag += time.Duration(mix * (float64(curlag) - float64(c.avglag)))

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	if c.pongCount%10 == 2 {
		log.Info().Float64("curlag-ms", float64(curlag)/float64(time.Millisecond)).
			Float64("avglag-ms", float64(c.avglag)/float64(time.Millisecond)).
			Str("device", c.deviceID).
			Str("role", c.role.String()).
			Int("pong-count", c.pongCount).
			Str("ips", c.forwardedFor).
			Str("connID", c.connID).
			Msg("got-pong")
	}
	return nil
}

// readPump pumps messages from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.handlePong)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Err(err).Str("connID", c.connID).Msg("unexpected-close")
			}
			// Probably a regular disconnect:
			log.Debug().Str("device", c.deviceID).Err(err).Msg("other-error-breaking-out")
			return
		}
		select {
		case c.hub.inbound <- clientMessage{from: c, msg: ParseMessage(message)}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine. Each message is its own frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				log.Debug().Str("connID", c.connID).Msg("hub closed channel")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.Lock()
			c.lastPingSent = time.Now()
			c.Unlock()
		}
	}
}

// close connection with an error string.
func closeMessage(ws *websocket.Conn, errStr string) {
	// close code 1008 is used for a generic "policy violation" message.
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errStr)
	log.Debug().Str("closemsg", errStr).Msg("writing close message")
	err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	if err != nil {
		log.Err(err).Msg("writing close message back to user")
	}
	ws.Close()
}

// readAuthToken waits for the auth-token message that must open the socket.
func readAuthToken(conn *websocket.Conn) (string, error) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(authWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	msg := ParseMessage(data)
	tok := strings.TrimSpace(msg.Body)
	if msg.What != MsgAuthToken || tok == "" {
		return "", ErrAuthRequired
	}
	return tok, nil
}

// serveWS handles websocket requests from the peer. The token comes from
// the token query parameter, or else from the first message.
func (h *Hub) serveWS(role Role, w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if err := token.ValidateDeviceID(deviceID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fwd := r.Header.Values("X-Forwarded-For")
	log.Debug().Interface("ips", fwd).Str("device", deviceID).Str("role", role.String()).
		Msg("servews-new-conn")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Err(err).Msg("upgrading socket")
		return
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		tok, err = readAuthToken(conn)
		if err != nil {
			log.Err(err).Str("device", deviceID).Msg("socket-auth-missing")
			closeMessage(conn, ErrAuthRequired.Error())
			return
		}
	}
	// First, verify connection token. Only an agent grant may act as the device.
	authorize := h.verifier.Authorize
	if role == RoleDevice {
		authorize = h.verifier.AuthorizeAgent
	}
	claims, err := authorize(tok, deviceID)
	if err != nil {
		log.Err(err).Str("device", deviceID).Str("role", role.String()).Msg("socket-login-error")
		closeMessage(conn, ErrUnauthorized.Error())
		return
	}

	client := &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, 256),
		deviceID:     deviceID,
		role:         role,
		subject:      claims.Subject,
		connID:       shortuuid.New(),
		forwardedFor: strings.Join(fwd, ","),
	}
	conn.SetReadDeadline(time.Time{})

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	log.Debug().Str("connID", client.connID).Str("subject", client.subject).
		Strs("grantedDevices", claims.DeviceIDs()).Msg("leaving-servews")
}
