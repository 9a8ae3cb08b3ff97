package session

// Option keys that could redirect the underlying connection. They are
// removed from caller input at every nesting level.
const (
	KeyRequestOptions   = "requestOptions"
	KeyWebsocketOptions = "websocketOptions"
	KeySessionID        = "sessionId"
)

var forbiddenKeys = map[string]bool{
	KeyRequestOptions:   true,
	KeyWebsocketOptions: true,
}

// SanitizeOptions returns a deep copy of raw without the forbidden override
// keys. A caller-supplied sessionId is dropped as well; when credential is
// non-empty it is injected in its place. raw is never mutated and may be nil.
func SanitizeOptions(raw map[string]any, credential string) map[string]any {
	out := sanitizeMap(raw)
	delete(out, KeySessionID)
	if credential != "" {
		out[KeySessionID] = credential
	}
	return out
}

func sanitizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if forbiddenKeys[k] {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = sanitizeValue(e)
		}
		return cp
	default:
		return v
	}
}
