package thingspeak

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"actuator_dashboard/internal/models"
)

type feedEntry struct {
	CreatedAt time.Time `json:"created_at"`
	EntryID   int       `json:"entry_id"`
}

// decodeSample parses a last.json body. Field values may be JSON strings
// or numbers; both normalize to bool. A missing or null field reads as off.
func decodeSample(body []byte) (*models.Sample, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %v", ErrProtocol, err)
	}
	var meta feedEntry
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode feed metadata: %v", ErrProtocol, err)
	}

	s := &models.Sample{EntryID: meta.EntryID, CreatedAt: meta.CreatedAt.UTC()}
	for i := 1; i <= models.FieldCount; i++ {
		on, err := parseValue(raw[models.FieldKey(i)])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, models.FieldKey(i), err)
		}
		s.Fields.Set(i, on)
	}
	return s, nil
}

// parseValue treats any non-zero number as on. "true"/"false" are accepted too.
func parseValue(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return false, err
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f != 0, nil
	}
	if b, err := strconv.ParseBool(text); err == nil {
		return b, nil
	}
	return false, fmt.Errorf("not a switch value: %q", truncate(text))
}

// parseEntryID reads the leading integer of an update response; anything
// after the digits is ignored.
func parseEntryID(body []byte) (int, error) {
	s := strings.TrimLeft(string(body), " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("no leading integer in %q", truncate(s))
	}
	return strconv.Atoi(s[:end])
}

func encodeValue(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
