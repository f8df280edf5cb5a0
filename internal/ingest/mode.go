package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidMaxInFlight = errors.New("x-max-in-flight must be a non-negative integer")

type AckMode int

const (
	FireAndForget AckMode = iota
	WaitForAck
)

func (m AckMode) String() string {
	if m == WaitForAck {
		return "wait"
	}
	return "fire-and-forget"
}

// ParseAckMode reads the x-ack-mode header. Unknown values fall back to
// fire-and-forget.
func ParseAckMode(value string) AckMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "wait", "wait-for-ack", "ack":
		return WaitForAck
	default:
		return FireAndForget
	}
}

// ParseMaxInFlight reads the x-max-in-flight header. Blank and 0 mean no
// bound; anything else must be a non-negative integer.
func ParseMaxInFlight(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMaxInFlight, value)
	}
	return n, nil
}
