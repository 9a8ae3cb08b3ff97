package live

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// EventType enumerates every event variant a live session can deliver.
type EventType int

const (
	RoomUser EventType = iota
	Member
	Chat
	Gift
	Social
	Like
	QuestionNew
	LinkMicBattle
	LinkMicArmies
	LiveIntro
	Emote
	Envelope
	Subscribe
)

var eventNames = map[EventType]string{
	RoomUser:      "roomUser",
	Member:        "member",
	Chat:          "chat",
	Gift:          "gift",
	Social:        "social",
	Like:          "like",
	QuestionNew:   "questionNew",
	LinkMicBattle: "linkMicBattle",
	LinkMicArmies: "linkMicArmies",
	LiveIntro:     "liveIntro",
	Emote:         "emote",
	Envelope:      "envelope",
	Subscribe:     "subscribe",
}

var eventFromName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventNames))
	for t, name := range eventNames {
		m[name] = t
	}
	return m
}()

// AllEventTypes lists the variants in declaration order.
func AllEventTypes() []EventType {
	types := make([]EventType, 0, len(eventNames))
	for t := RoomUser; t <= Subscribe; t++ {
		types = append(types, t)
	}
	return types
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := ParseEventType(s)
	if !ok {
		return fmt.Errorf("unknown event type %q", s)
	}
	*t = v
	return nil
}

// ParseEventType maps a wire event name to its variant.
func ParseEventType(name string) (EventType, bool) {
	t, ok := eventFromName[name]
	return t, ok
}

// Event is one normalized event from a live session. Data holds the
// provider's payload verbatim so it can be forwarded without loss.
type Event struct {
	Type        EventType       `json:"type"`
	Broadcaster string          `json:"broadcaster"`
	Data        json.RawMessage `json:"data"`
}

// Field returns the payload value at the given gjson path.
func (e Event) Field(path string) gjson.Result {
	return gjson.GetBytes(e.Data, path)
}

func (e Event) UniqueID() string { return e.Field("uniqueId").String() }
func (e Event) Nickname() string { return e.Field("nickname").String() }
func (e Event) CreateTime() string { return e.Field("createTime").String() }

// Number reports the numeric value at path and whether the field exists
// and is a JSON number.
func (e Event) Number(path string) (int64, bool) {
	r := e.Field(path)
	if r.Type != gjson.Number {
		return 0, false
	}
	return r.Int(), true
}
