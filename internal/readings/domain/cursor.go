package readings

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// ErrInvalidCursor indicates a malformed pagination cursor.
var ErrInvalidCursor = errors.New("readings: invalid cursor")

// EncodeCursor builds an opaque keyset cursor after the given reading.
func EncodeCursor(r Reading) string {
	raw := r.RecordedAt.UTC().Format(time.RFC3339Nano) + "|" + r.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor returns the (recorded_at, id) position encoded in a cursor.
func DecodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	at, id, ok := strings.Cut(string(data), "|")
	if !ok || id == "" {
		return time.Time{}, "", ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	return ts.UTC(), id, nil
}
