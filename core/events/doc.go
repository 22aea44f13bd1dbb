// Package events defines the events emitted on the event bus.
//
// Available event types:
//   - RunEvent: an inference run finished, successfully or not
//   - IngestEvent: an acquisition cycle stored new rows
package events
