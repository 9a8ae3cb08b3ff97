package session

import (
	"encoding/json"
	"time"
)

// State is a session's lifecycle state.
type State int

const (
	Connecting State = iota
	Connected
	Ended
	Disconnected
)

var stateNames = map[State]string{
	Connecting:   "connecting",
	Connected:    "connected",
	Ended:        "ended",
	Disconnected: "disconnected",
}

var stateFromName = map[string]State{
	"connecting":   Connecting,
	"connected":    Connected,
	"ended":        Ended,
	"disconnected": Disconnected,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

func (s State) IsTerminal() bool {
	return s == Ended || s == Disconnected
}

// SignalType classifies lifecycle signals.
type SignalType int

const (
	SignalConnected    SignalType = iota // handshake completed; sent exactly once
	SignalEnded                          // broadcast concluded
	SignalDisconnected                   // closed by owner or connection lost
)

func (t SignalType) String() string {
	switch t {
	case SignalConnected:
		return "connected"
	case SignalEnded:
		return "ended"
	case SignalDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Signal carries a lifecycle transition to the session's owner.
type Signal struct {
	Type   SignalType
	Room   json.RawMessage // room state for SignalConnected
	Reason string          // human-readable cause for terminal signals
}

// IsTerminal reports whether the signal is the session's last.
func (s Signal) IsTerminal() bool {
	return s.Type != SignalConnected
}

// Info is a point-in-time snapshot of a session, safe to retain.
type Info struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Client     string    `json:"client,omitempty"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
	Prefix     string    `json:"prefix"`
}
