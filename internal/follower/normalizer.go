package follower

import (
	"encoding/json"
	"strings"

	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// Describe extracts the latest human-readable event from a snapshot. Payload
// encodings evolved over time and all remain supported:
//
//  1. a structured list of event records, each carrying its own description;
//     the most recently appended record wins;
//  2. a scalar last_event field that may itself be a JSON object with a
//     "description" key; structured parse is attempted first, raw text on
//     failure;
//  3. no event data at all.
//
// Shape 1 is preferred over shape 2 whenever both are present, since its
// records carry the per-event identity the timeline needs. Describe is total:
// malformed JSON falls back to the raw text, it never errors.
func Describe(snap models.MatchSnapshot) (string, bool) {
	if n := len(snap.Events); n > 0 {
		if desc := strings.TrimSpace(snap.Events[n-1].Description); desc != "" {
			return desc, true
		}
	}

	raw := strings.TrimSpace(snap.LastEvent)
	if raw == "" {
		return "", false
	}

	var structured struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(raw), &structured); err == nil && structured.Description != "" {
		return structured.Description, true
	}
	return raw, true
}
