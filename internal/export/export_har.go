// export_har.go — HAR 1.2 export from correlated network events.
// Pairs each start event with its terminal event by correlation id and emits
// one HAR entry per logical request, for import into browser DevTools and other
// HAR consumers.
// Design: Standalone functions over []types.Event, no capture dependency.
//
// HAR 1.2 fields use camelCase per http://www.softwareishard.com/blog/har-12-spec/
package export

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dev-console/pagetap/internal/types"
)

// ============================================
// HAR 1.2 Types
// ============================================

// HARLog is the top-level HAR structure.
type HARLog struct {
	Log HARLogInner `json:"log"`
}

// HARLogInner contains the HAR version, creator, and entries.
type HARLogInner struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

// HARCreator identifies the tool that generated the HAR.
type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HAREntry represents a single HTTP request/response pair.
type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"` // total elapsed time in ms
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Timings         HARTimings  `json:"timings"`
	Comment         string      `json:"comment,omitempty"`
}

// HARRequest represents an HTTP request.
type HARRequest struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []HARNameValue `json:"headers"`
	QueryString []HARNameValue `json:"queryString"`
	PostData    *HARPostData   `json:"postData,omitempty"`
	HeadersSize int            `json:"headersSize"`
	BodySize    int            `json:"bodySize"`
}

// HARResponse represents an HTTP response.
type HARResponse struct {
	Status      int            `json:"status"`
	StatusText  string         `json:"statusText"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []HARNameValue `json:"headers"`
	Content     HARContent     `json:"content"`
	HeadersSize int            `json:"headersSize"`
	BodySize    int            `json:"bodySize"`
}

// HARContent represents response body content.
type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// HARTimings contains timing breakdown for the request.
type HARTimings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// HARNameValue is a generic name/value pair for headers, query params, etc.
type HARNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARPostData represents request body data.
type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HARFilter narrows the exported requests. Zero values match everything.
type HARFilter struct {
	URLFilter string
	Method    string
	StatusMin int
	StatusMax int
}

// CreatorVersion is reported in the HAR creator block.
var CreatorVersion = "1.0.0"

// ============================================
// Export Functions
// ============================================

// BuildHAR converts every network request in events to a HAR log.
func BuildHAR(events []types.Event) HARLog {
	return BuildFilteredHAR(events, HARFilter{})
}

// BuildFilteredHAR converts the network requests in events that pass filter.
// Entries are ordered by start time; requests without a terminal event are
// exported with status 0 and a comment.
func BuildFilteredHAR(events []types.Event, filter HARFilter) HARLog {
	entries := make([]HAREntry, 0)
	for _, req := range correlate(events) {
		if !matchesHARFilter(req, filter) {
			continue
		}
		entries = append(entries, toHAREntry(req))
	}
	return HARLog{
		Log: HARLogInner{
			Version: "1.2",
			Creator: HARCreator{Name: "pagetap", Version: CreatorVersion},
			Entries: entries,
		},
	}
}

// ============================================
// Correlation
// ============================================

type request struct {
	start    types.NetworkRecord
	terminal *types.NetworkRecord
}

// correlate pairs start records with their terminal record by id, in start order.
// Events that fail to decode are skipped.
func correlate(events []types.Event) []*request {
	byID := make(map[string]*request)
	order := make([]*request, 0)
	for _, ev := range events {
		if ev.Kind != types.KindCustom || ev.Tag != types.TagNetwork {
			continue
		}
		var rec types.NetworkRecord
		if err := ev.Decode(&rec); err != nil {
			continue
		}
		switch {
		case rec.Phase == types.PhaseStart:
			r := &request{start: rec}
			byID[rec.ID] = r
			order = append(order, r)
		case rec.Phase.Terminal():
			if r, ok := byID[rec.ID]; ok && r.terminal == nil {
				rec := rec
				r.terminal = &rec
			}
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].start.Timestamp < order[j].start.Timestamp })
	return order
}

// ============================================
// Conversion
// ============================================

func toHAREntry(r *request) HAREntry {
	entry := HAREntry{
		StartedDateTime: time.UnixMilli(r.start.Timestamp).UTC().Format(time.RFC3339Nano),
		Request:         buildHARRequest(r.start),
		Response: HARResponse{
			HTTPVersion: "HTTP/1.1",
			Headers:     make([]HARNameValue, 0),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Timings: HARTimings{Send: -1, Receive: -1},
	}

	switch {
	case r.terminal == nil:
		entry.Comment = "request did not complete"
	case r.terminal.Phase == types.PhaseError:
		entry.Time = r.terminal.DurationMs
		entry.Timings.Wait = r.terminal.DurationMs
		entry.Comment = r.terminal.Error
	default:
		entry.Time = r.terminal.DurationMs
		entry.Timings.Wait = r.terminal.DurationMs
		entry.Response = buildHARResponse(*r.terminal)
	}
	return entry
}

func buildHARRequest(start types.NetworkRecord) HARRequest {
	req := HARRequest{
		Method:      start.Method,
		URL:         start.URL,
		HTTPVersion: "HTTP/1.1",
		Headers:     nameValues(start.Headers),
		QueryString: parseQueryString(start.URL),
		HeadersSize: -1,
	}
	if start.RequestBody != "" {
		req.PostData = &HARPostData{
			MimeType: headerValue(start.Headers, "content-type"),
			Text:     start.RequestBody,
		}
		req.BodySize = len(start.RequestBody)
	}
	return req
}

func buildHARResponse(end types.NetworkRecord) HARResponse {
	headers := end.Headers
	statusText := end.StatusText
	if statusText == "" {
		statusText = http.StatusText(end.Status)
	}
	return HARResponse{
		Status:      end.Status,
		StatusText:  statusText,
		HTTPVersion: "HTTP/1.1",
		Headers:     nameValues(headers),
		Content: HARContent{
			Size:     len(end.ResponseBody),
			MimeType: headerValue(headers, "content-type"),
			Text:     end.ResponseBody,
		},
		HeadersSize: -1,
		BodySize:    len(end.ResponseBody),
	}
}

// ============================================
// Helpers
// ============================================

func nameValues(headers map[string]string) []HARNameValue {
	result := make([]HARNameValue, 0, len(headers))
	for name, value := range headers {
		result = append(result, HARNameValue{Name: name, Value: value})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// parseQueryString extracts query parameters from a URL as name/value pairs.
func parseQueryString(rawURL string) []HARNameValue {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return make([]HARNameValue, 0)
	}
	params := parsed.Query()
	result := make([]HARNameValue, 0, len(params))
	for name, values := range params {
		for _, val := range values {
			result = append(result, HARNameValue{Name: name, Value: val})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// matchesHARFilter checks if a request passes the filter criteria.
func matchesHARFilter(r *request, filter HARFilter) bool {
	if filter.URLFilter != "" && !strings.Contains(strings.ToLower(r.start.URL), strings.ToLower(filter.URLFilter)) {
		return false
	}
	if filter.Method != "" && !strings.EqualFold(r.start.Method, filter.Method) {
		return false
	}
	status := 0
	if r.terminal != nil {
		status = r.terminal.Status
	}
	if filter.StatusMin > 0 && status < filter.StatusMin {
		return false
	}
	if filter.StatusMax > 0 && status > filter.StatusMax {
		return false
	}
	return true
}
