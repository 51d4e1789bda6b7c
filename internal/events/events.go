// Package events publishes annotation activity to Kafka so downstream
// consumers can follow annotator progress without touching session state.
package events

import "time"

type Type string

const (
	TypeSessionStarted      Type = "session_started"
	TypeDatasetLoaded       Type = "dataset_loaded"
	TypeAnnotationCommitted Type = "annotation_committed"
	TypePatternsUpdated     Type = "patterns_updated"
	TypeSessionEnded        Type = "session_ended"
)

// Event is one annotation activity record. Fields not relevant to a type
// are left empty.
type Event struct {
	Type      Type      `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	Dataset   string    `json:"dataset,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	Sentences int       `json:"sentences,omitempty"`
	Spans     int       `json:"spans,omitempty"`
	Terms     []string  `json:"terms,omitempty"`
	Patterns  int       `json:"patterns,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Key partitions events by user so each user's activity stays ordered.
func (e Event) Key() string {
	return e.Username
}
