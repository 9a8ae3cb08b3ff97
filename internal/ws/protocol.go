package ws

import (
	"encoding/json"
)

type MessageType string

// Outgoing control messages. Events are sent with their own type name.
const (
	MsgConnected    MessageType = "tiktokConnected"
	MsgDisconnected MessageType = "tiktokDisconnected"
	MsgStreamEnd    MessageType = "streamEnd"
	MsgStatistic    MessageType = "statistic"
)

// Incoming client requests.
const (
	MsgSetUniqueID MessageType = "setUniqueId"
)

// RateLimitedReason is sent to clients rejected by admission control.
const RateLimitedReason = "You have opened too many connections or made too many connection requests. " +
	"Please reduce the number of connections/requests or host your own server instance. " +
	"The connections are limited to avoid that the server IP gets blocked."

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

type StatisticPayload struct {
	GlobalConnectionCount int `json:"globalConnectionCount"`
}

// ClientMessage is a request from the interactive client.
type ClientMessage struct {
	Type     MessageType    `json:"type"`
	UniqueID string         `json:"uniqueId"`
	Options  map[string]any `json:"options,omitempty"`
}

func encode(msg WSMessage) ([]byte, error) {
	return json.Marshal(msg)
}
