package network

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/dev-console/pagetap/internal/types"
)

// Classify maps a content type to the response class recorded in end events.
// Unknown and missing types fall back to text.
func Classify(contentType string) types.ResponseType {
	mt := mediaType(contentType)
	switch {
	case mt == "application/json", strings.HasSuffix(mt, "+json"), strings.Contains(mt, "json"):
		return types.ResponseJSON
	case strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "video/"), strings.HasPrefix(mt, "audio/"):
		return types.ResponseBinary
	}
	return types.ResponseText
}

// isStream reports content types whose bodies never settle on their own.
func isStream(contentType string) bool {
	return mediaType(contentType) == "text/event-stream"
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// binaryPlaceholder describes a body whose bytes are not recorded.
// size < 0 means the length is unknown.
func binaryPlaceholder(contentType string, size int64) string {
	if contentType == "" {
		contentType = "unknown type"
	}
	if size < 0 {
		return fmt.Sprintf("[Binary response: %s, unknown size]", contentType)
	}
	return fmt.Sprintf("[Binary response: %s, %d bytes]", contentType, size)
}

func unreadablePlaceholder(err error) string {
	return fmt.Sprintf("[Unable to read response body: %v]", err)
}

// headerMap flattens h into lower-cased names with comma-joined values.
func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

func statusOK(status int) bool { return status >= 200 && status < 300 }
