// Package payload builds the canonical byte sequence that is hashed and
// signed. Signer and verifier must produce it identically, byte for byte.
//
// The canonical form is the delimited string
//
//	conversationId|epochMillis|nonceBase64|body
//
// with the timestamp always rendered as epoch milliseconds, never as a
// free-form string, so that formatting skew between the two sides cannot
// change the signed bytes.
package payload

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimestamp accepts the client-supplied timestamp either as an
// RFC 3339 string or as a raw epoch-milliseconds decimal and returns the
// parsed instant.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, nil
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable timestamp %q", ts)
	}
	return time.UnixMilli(ms), nil
}

// EpochMillis is the single canonical numeric representation of a
// timestamp inside the signed payload.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// Build returns the canonical payload bytes. Pure; no side effects.
func Build(conversationID int64, clientTimestamp time.Time, nonceBase64, body string) []byte {
	s := strconv.FormatInt(conversationID, 10) +
		"|" + strconv.FormatInt(EpochMillis(clientTimestamp), 10) +
		"|" + nonceBase64 +
		"|" + body
	return []byte(s)
}
