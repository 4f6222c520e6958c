package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

var (
	redactedFields = map[string]struct{}{
		"email": {}, "user_id": {}, "access_token": {}, "refresh_token": {},
	}
	// Free text that may echo user input or model output.
	truncatedFields = map[string]struct{}{
		"prompt": {}, "response_fragment": {}, "llm_input": {}, "llm_output": {},
	}
)

// Scrub returns a copy of payload with sensitive fields replaced by a short digest.
// Keys match case-insensitively at any depth.
func Scrub(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	return scrubValue(payload).(map[string]any)
}

func scrubValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			lower := strings.ToLower(key)
			_, redact := redactedFields[lower]
			_, truncate := truncatedFields[lower]
			if redact || truncate {
				out[key] = digest(child)
				continue
			}
			out[key] = scrubValue(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = scrubValue(child)
		}
		return out
	default:
		return value
	}
}

func digest(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		raw = []byte(fmt.Sprint(value))
	}
	sum := sha256.Sum256(raw)
	return "[hash:" + hex.EncodeToString(sum[:])[:16] + "]"
}
