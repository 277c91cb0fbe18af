package hub

import (
	"bytes"
	"encoding/json"
	"time"
)

// Message kinds on the signaling socket.
const (
	MsgAuthToken    = "auth-token"
	MsgRequestTURN  = "request-turn"
	MsgTURN         = "turn"
	MsgSDPOffer     = "sdp-offer"
	MsgSDPAnswer    = "sdp-answer"
	MsgICECandidate = "ice-candidate"
	MsgDeviceStatus = "device-status"
	MsgError        = "error"
)

// A Message is one websocket frame: the kind on the first line, then the body.
type Message struct {
	What string
	Body string
}

// ParseMessage splits a frame into its first line and the remainder.
// "abc\ndef\ng" gives {What: "abc", Body: "def\ng"}.
func ParseMessage(data []byte) Message {
	what, body, _ := bytes.Cut(data, []byte("\n"))
	return Message{What: string(what), Body: string(body)}
}

func (m Message) Bytes() []byte {
	b := make([]byte, 0, len(m.What)+1+len(m.Body))
	b = append(b, m.What...)
	b = append(b, '\n')
	return append(b, m.Body...)
}

func errorMessage(text string) []byte {
	return Message{What: MsgError, Body: text}.Bytes()
}

// relayed lists the kinds that pass between callers and device agents.
var relayed = map[string]bool{
	MsgSDPOffer:     true,
	MsgSDPAnswer:    true,
	MsgICECandidate: true,
}

// DeviceStatus is the body of a device-status message.
type DeviceStatus struct {
	DeviceID string    `json:"deviceId"`
	Online   bool      `json:"online"`
	Since    time.Time `json:"since"`
}

func (s DeviceStatus) message() ([]byte, error) {
	bts, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return Message{What: MsgDeviceStatus, Body: string(bts)}.Bytes(), nil
}
