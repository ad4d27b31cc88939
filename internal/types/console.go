// console.go — Console capture payload.
package types

// ConsoleLevel is the console method (or page-level failure signal) that produced an entry.
type ConsoleLevel string

const (
	LevelLog   ConsoleLevel = "log"
	LevelError ConsoleLevel = "error"
	LevelWarn  ConsoleLevel = "warn"
	LevelInfo  ConsoleLevel = "info"
	LevelDebug ConsoleLevel = "debug"
)

// ConsoleLevels lists the wrapped console methods in installation order.
var ConsoleLevels = []ConsoleLevel{LevelLog, LevelError, LevelWarn, LevelInfo, LevelDebug}

// ConsolePayload is the payload of a "console" custom event.
type ConsolePayload struct {
	Level     ConsoleLevel `json:"level"`
	Message   string       `json:"message"` // rendered arguments joined by a single space
	Args      []string     `json:"args"`    // size-capped serialization of each raw argument
	Timestamp int64        `json:"timestamp"`
	URL       string       `json:"url"`
	Source    string       `json:"source,omitempty"` // filename of an uncaught error
	Line      int          `json:"line,omitempty"`
	Column    int          `json:"column,omitempty"`
}
