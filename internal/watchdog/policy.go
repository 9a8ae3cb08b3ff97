package watchdog

import "fmt"

// OnlinePolicy decides when a host counts as online during a reconnect,
// and with it whether a slow attempt is retried on the next tick.
type OnlinePolicy string

const (
	// PolicyEager marks a host online when the attempt starts and reverts
	// it if the attempt fails. Later ticks leave a pending attempt alone.
	PolicyEager OnlinePolicy = "eager"
	// PolicyConfirmed marks a host online only after its session connects.
	// A host still connecting at the next tick counts as offline: the
	// pending attempt is cancelled and a fresh one started.
	PolicyConfirmed OnlinePolicy = "confirmed"
)

func ParsePolicy(s string) (OnlinePolicy, error) {
	switch OnlinePolicy(s) {
	case "", PolicyEager:
		return PolicyEager, nil
	case PolicyConfirmed:
		return PolicyConfirmed, nil
	}
	return "", fmt.Errorf("unknown online policy %q", s)
}
