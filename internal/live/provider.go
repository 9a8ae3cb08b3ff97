package live

import (
	"context"
	"encoding/json"
)

// Control message names emitted by a Conn alongside event messages.
const (
	MsgStreamEnd    = "streamEnd"
	MsgDisconnected = "disconnected"
)

// Provider establishes connections to a live broadcast. Implementations wrap
// the actual live protocol client (authentication, wire decoding).
type Provider interface {
	// Open prepares a connection handle for identifier. It must not perform
	// network I/O; that happens in Conn.Connect.
	Open(identifier string, options map[string]any) (Conn, error)
}

// Conn is a single live connection handle.
type Conn interface {
	// Connect performs the handshake and returns the room state reported
	// by the provider. An error means the broadcaster could not be joined
	// (not live, unknown identifier, network or auth failure).
	Connect(ctx context.Context) (json.RawMessage, error)

	// Messages delivers decoded messages in arrival order. The channel is
	// closed when the underlying connection ends for any reason.
	Messages() <-chan Message

	// Disconnect tears the connection down. Safe to call more than once.
	Disconnect() error
}

// Message is one raw message from a Conn: either an event (Name is an
// EventType name) or a control message (MsgStreamEnd, MsgDisconnected).
type Message struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}
