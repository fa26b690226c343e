package dxfeed

import (
	"encoding/json"
	"fmt"
)

// Channels used by the cometd layer of the quote feed.
const (
	ChannelHandshake = "/meta/handshake"
	ChannelConnect   = "/meta/connect"
	ChannelSub       = "/service/sub"
	ChannelData      = "/service/data"
)

// AuthTokenExt is the handshake extension key carrying the streamer token.
const AuthTokenExt = "com.devexperts.auth.AuthToken"

// Message is a single cometd envelope. Frames on the wire are JSON arrays of
// messages.
type Message struct {
	Channel                  string          `json:"channel"`
	ClientID                 string          `json:"clientId,omitempty"`
	ID                       string          `json:"id,omitempty"`
	Version                  string          `json:"version,omitempty"`
	MinimumVersion           string          `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
	Successful               *bool           `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
	Advice                   *Advice         `json:"advice,omitempty"`
	Ext                      map[string]any  `json:"ext,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
}

// Advice is the cometd reconnect advice. Timeout and Interval are in
// milliseconds.
type Advice struct {
	Timeout   int64  `json:"timeout"`
	Interval  int64  `json:"interval"`
	Reconnect string `json:"reconnect,omitempty"`
}

// SubscriptionData is the payload of a /service/sub message.
type SubscriptionData struct {
	Add    map[string][]string `json:"add,omitempty"`
	Remove map[string][]string `json:"remove,omitempty"`
	Reset  bool                `json:"reset,omitempty"`
}

// OK reports whether the server acknowledged the message.
func (m Message) OK() bool {
	return m.Successful != nil && *m.Successful
}

// HandshakeMessage builds the login handshake carrying the streamer token.
func HandshakeMessage(token string, advice Advice) Message {
	return Message{
		Channel:                  ChannelHandshake,
		Version:                  "1.0",
		MinimumVersion:           "1.0",
		SupportedConnectionTypes: []string{"websocket"},
		Advice:                   &advice,
		Ext:                      map[string]any{AuthTokenExt: token},
	}
}

// ConnectMessage builds a /meta/connect message. It doubles as the keep-alive.
func ConnectMessage(clientID string) Message {
	return Message{
		Channel:        ChannelConnect,
		ClientID:       clientID,
		ConnectionType: "websocket",
		Advice:         &Advice{Timeout: 0},
	}
}

// SubscriptionMessage builds a /service/sub message with the given action.
func SubscriptionMessage(clientID string, data SubscriptionData) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encoding subscription data: %w", err)
	}
	return Message{Channel: ChannelSub, ClientID: clientID, Data: raw}, nil
}

// Encode serializes messages as a single text frame.
func Encode(msgs ...Message) ([]byte, error) {
	return json.Marshal(msgs)
}

// DecodeFrame parses an inbound text frame into its envelopes. A frame
// holding a single object instead of an array is accepted as well.
func DecodeFrame(frame []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(frame, &msgs); err == nil {
		return msgs, nil
	}
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return []Message{msg}, nil
}
