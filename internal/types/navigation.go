package types

// NavPayload is the payload of a "nav" custom event.
type NavPayload struct {
	Href      string `json:"href"`
	Timestamp int64  `json:"timestamp"`
}
