package events

import "time"

// IngestEvent is published after an acquisition cycle.
// Source is one of "stations", "status" or "weather".
type IngestEvent struct {
	Source string
	Rows   int
	Err    error
	Time   time.Time
}
