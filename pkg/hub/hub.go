package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/domino14/devgrant/pkg/token"
	"github.com/domino14/devgrant/pkg/turn"
)

const ConnPollPeriod = 60 * time.Second

// Role is what a connection is doing in a device's room.
type Role int

const (
	RoleCaller Role = iota
	RoleDevice
	RoleMonitor
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleDevice:
		return "device"
	case RoleMonitor:
		return "monitor"
	}
	return "unknown"
}

type clientMessage struct {
	from *Client
	msg  Message
}

// room is everything connected for one device ID.
type room struct {
	devices  map[*Client]bool
	callers  map[*Client]bool
	monitors map[*Client]bool
}

func (r *room) empty() bool {
	return len(r.devices) == 0 && len(r.callers) == 0 && len(r.monitors) == 0
}

// Hub maintains the set of active clients and relays signaling messages
// between callers and device agents.
type Hub struct {
	// Only touched from Run.
	rooms           map[string]*room
	clientsByConnID map[string]*Client
	statuses        map[string]DeviceStatus

	register   chan *Client
	unregister chan *Client
	inbound    chan clientMessage
	done       chan struct{}

	verifier *token.Verifier
	turn     *turn.Provider
	now      func() time.Time
	started  time.Time
	upgrader websocket.Upgrader
}

type Option func(*Hub)

// WithTURN enables answering request-turn messages.
func WithTURN(p *turn.Provider) Option {
	return func(h *Hub) {
		h.turn = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// WithAllowedOrigins restricts the Origin header of websocket upgrades. No
// origins means any origin is accepted.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			originHeader := r.Header.Get("Origin")
			for _, origin := range origins {
				if originHeader == origin {
					return true
				}
			}
			return false
		}
	}
}

func NewHub(verifier *token.Verifier, opts ...Option) (*Hub, error) {
	if verifier == nil {
		return nil, errors.New("hub needs a token verifier")
	}
	h := &Hub{
		rooms:           make(map[string]*room),
		clientsByConnID: make(map[string]*Client),
		statuses:        make(map[string]DeviceStatus),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		inbound:         make(chan clientMessage),
		done:            make(chan struct{}),
		verifier:        verifier,
		now:             time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	WithAllowedOrigins(nil)(h)
	for _, o := range opts {
		o(h)
	}
	h.started = h.now()
	return h, nil
}

// Handler serves the call and monitor endpoints.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices/{id}/call", func(w http.ResponseWriter, r *http.Request) {
		role := RoleCaller
		if r.URL.Query().Get("role") == "device" {
			role = RoleDevice
		}
		h.serveWS(role, w, r)
	})
	mux.HandleFunc("GET /v1/monitor/device/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.serveWS(RoleMonitor, w, r)
	})
	return mux
}

func (h *Hub) roomFor(deviceID string) *room {
	r := h.rooms[deviceID]
	if r == nil {
		r = &room{
			devices:  make(map[*Client]bool),
			callers:  make(map[*Client]bool),
			monitors: make(map[*Client]bool),
		}
		h.rooms[deviceID] = r
	}
	return r
}

func (h *Hub) addClient(c *Client) {
	r := h.roomFor(c.deviceID)
	h.clientsByConnID[c.connID] = c

	switch c.role {
	case RoleDevice:
		r.devices[c] = true
		if len(r.devices) == 1 {
			h.setStatus(c.deviceID, true)
		}
	case RoleCaller:
		r.callers[c] = true
	case RoleMonitor:
		r.monitors[c] = true
		h.sendStatus(c, h.status(c.deviceID))
	}
	log.Debug().Str("device", c.deviceID).Str("role", c.role.String()).
		Str("connID", c.connID).Msg("added-client")
}

func (h *Hub) removeClient(c *Client) {
	// no need to protect with mutex, only called from
	// single-threaded Run
	if _, ok := h.clientsByConnID[c.connID]; !ok {
		return
	}
	log.Debug().Str("device", c.deviceID).Str("connid", c.connID).Msg("removing client")
	delete(h.clientsByConnID, c.connID)
	close(c.send)

	r := h.rooms[c.deviceID]
	if r == nil {
		return
	}
	switch c.role {
	case RoleDevice:
		delete(r.devices, c)
		if len(r.devices) == 0 {
			h.setStatus(c.deviceID, false)
		}
	case RoleCaller:
		delete(r.callers, c)
	case RoleMonitor:
		delete(r.monitors, c)
	}
	if r.empty() {
		delete(h.rooms, c.deviceID)
	}
}

func (h *Hub) status(deviceID string) DeviceStatus {
	if st, ok := h.statuses[deviceID]; ok {
		return st
	}
	return DeviceStatus{DeviceID: deviceID, Online: false, Since: h.started}
}

func (h *Hub) setStatus(deviceID string, online bool) {
	st := DeviceStatus{DeviceID: deviceID, Online: online, Since: h.now()}
	h.statuses[deviceID] = st
	log.Info().Str("device", deviceID).Bool("online", online).Msg("device-status")

	r := h.rooms[deviceID]
	if r == nil {
		return
	}
	for m := range r.monitors {
		h.sendStatus(m, st)
	}
}

func (h *Hub) sendStatus(c *Client, st DeviceStatus) {
	msg, err := st.message()
	if err != nil {
		log.Err(err).Msg("marshalling-status")
		return
	}
	h.deliver(c, msg)
}

// deliver queues msg for c, dropping c if it cannot keep up.
func (h *Hub) deliver(c *Client, msg []byte) {
	if _, ok := h.clientsByConnID[c.connID]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Debug().Str("connID", c.connID).Msg("send-buffer-full, removeClient")
		h.removeClient(c)
	}
}

func (h *Hub) route(m clientMessage) {
	c := m.from
	if _, ok := h.clientsByConnID[c.connID]; !ok {
		return
	}
	switch {
	case m.msg.What == MsgRequestTURN:
		h.sendTURN(c)
		return
	case m.msg.What == MsgAuthToken:
		h.deliver(c, errorMessage("already authenticated"))
		return
	case !relayed[m.msg.What]:
		h.deliver(c, errorMessage("badly formatted message"))
		return
	case c.role == RoleMonitor:
		h.deliver(c, errorMessage("monitor connections cannot signal"))
		return
	}

	r := h.rooms[c.deviceID]
	peers, missing := r.devices, "device offline"
	if c.role == RoleDevice {
		peers, missing = r.callers, "no callers"
	}
	if len(peers) == 0 {
		h.deliver(c, errorMessage(missing))
		return
	}
	out := m.msg.Bytes()
	for p := range peers {
		h.deliver(p, out)
	}
}

func (h *Hub) sendTURN(c *Client) {
	if h.turn == nil {
		h.deliver(c, errorMessage("turn not configured"))
		return
	}
	bts, err := json.Marshal(h.turn.Credential(c.subject, h.now()))
	if err != nil {
		log.Err(err).Msg("marshalling-turn")
		h.deliver(c, errorMessage("turn unavailable"))
		return
	}
	h.deliver(c, Message{What: MsgTURN, Body: string(bts)}.Bytes())
}

// Run owns all hub state until ctx is done. Every connection is closed on
// the way out.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(ConnPollPeriod)
	defer func() {
		ticker.Stop()
		close(h.done)
		for _, c := range h.clientsByConnID {
			close(c.send)
		}
		h.clientsByConnID = map[string]*Client{}
		h.rooms = map[string]*room{}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub-stopping")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
			log.Info().Str("device", client.deviceID).Str("role", client.role.String()).
				Msg("unregistered-client")

		case m := <-h.inbound:
			h.route(m)

		case <-ticker.C:
			online := 0
			for _, r := range h.rooms {
				if len(r.devices) > 0 {
					online++
				}
			}
			log.Info().Int("num-conns", len(h.clientsByConnID)).
				Int("num-rooms", len(h.rooms)).Int("devices-online", online).Msg("conn-stats")
		}
	}
}
