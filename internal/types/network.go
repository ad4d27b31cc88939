// network.go — Network capture payloads.
// One logical request produces a start event and at most one terminal event
// (end or error) sharing the same correlation id.
package types

// NetworkPhase is the lifecycle step a network payload describes.
type NetworkPhase string

const (
	PhaseStart NetworkPhase = "start"
	PhaseEnd   NetworkPhase = "end"
	PhaseError NetworkPhase = "error"
)

// Terminal reports whether the phase closes a request.
func (p NetworkPhase) Terminal() bool { return p == PhaseEnd || p == PhaseError }

// NetworkAPI names the host capability that issued a request.
type NetworkAPI string

const (
	APIFetch NetworkAPI = "fetch"
	APIXHR   NetworkAPI = "xhr"
)

// ResponseType classifies a captured response body.
type ResponseType string

const (
	ResponseJSON   ResponseType = "json"
	ResponseText   ResponseType = "text"
	ResponseBinary ResponseType = "binary"
)

// NetworkStart is emitted before the request is handed to the native implementation.
type NetworkStart struct {
	Phase       NetworkPhase      `json:"phase"`
	ID          string            `json:"id"`
	API         NetworkAPI        `json:"api"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	RequestBody string            `json:"request_body"`
	Timestamp   int64             `json:"timestamp"`
}

// NetworkEnd is emitted once the response has been observed.
// RawHeaders carries the XHR getAllResponseHeaders() form; fetch leaves it empty.
type NetworkEnd struct {
	Phase        NetworkPhase      `json:"phase"`
	ID           string            `json:"id"`
	Status       int               `json:"status"`
	StatusText   string            `json:"status_text"`
	OK           bool              `json:"ok"`
	Headers      map[string]string `json:"headers"`
	RawHeaders   string            `json:"raw_headers,omitempty"`
	ResponseBody string            `json:"response_body"`
	ResponseType ResponseType      `json:"response_type"`
	DurationMs   float64           `json:"duration_ms"`
	Timestamp    int64             `json:"timestamp"`
}

// NetworkError is emitted when the native request fails, aborts or times out.
type NetworkError struct {
	Phase      NetworkPhase `json:"phase"`
	ID         string       `json:"id"`
	Error      string       `json:"error"`
	Stack      string       `json:"stack,omitempty"`
	DurationMs float64      `json:"duration_ms"`
	Timestamp  int64        `json:"timestamp"`
}

// NetworkRecord is the union of all network phases, used when reading events back.
// OK is a pointer so a start or error record is distinguishable from ok=false.
type NetworkRecord struct {
	Phase        NetworkPhase      `json:"phase"`
	ID           string            `json:"id"`
	API          NetworkAPI        `json:"api,omitempty"`
	URL          string            `json:"url,omitempty"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	RawHeaders   string            `json:"raw_headers,omitempty"`
	RequestBody  string            `json:"request_body,omitempty"`
	Status       int               `json:"status,omitempty"`
	StatusText   string            `json:"status_text,omitempty"`
	OK           *bool             `json:"ok,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	ResponseType ResponseType      `json:"response_type,omitempty"`
	Error        string            `json:"error,omitempty"`
	Stack        string            `json:"stack,omitempty"`
	DurationMs   float64           `json:"duration_ms,omitempty"`
	Timestamp    int64             `json:"timestamp"`
}
