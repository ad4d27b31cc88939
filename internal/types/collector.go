// collector.go — Wire types exchanged between the remote substrate and the collector.
package types

// CreateSessionRequest opens a recording session on the collector.
type CreateSessionRequest struct {
	Page         string `json:"page,omitempty"`
	RecordCanvas bool   `json:"record_canvas"`
}

// SessionInfo describes a stored recording session.
type SessionInfo struct {
	ID           string `json:"id"`
	Page         string `json:"page,omitempty"`
	RecordCanvas bool   `json:"record_canvas"`
	CreatedAt    int64  `json:"created_at"` // unix milliseconds
	EventCount   int    `json:"event_count"`
}

// IngestResult acknowledges an event batch.
type IngestResult struct {
	Accepted int `json:"accepted"`
}
