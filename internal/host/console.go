// console.go — Console capability.
package host

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// LogFunc is one console method.
type LogFunc func(args ...any)

// Console holds the five wrapped console methods.
type Console struct {
	Log   LogFunc
	Error LogFunc
	Warn  LogFunc
	Info  LogFunc
	Debug LogFunc
}

// Method returns a pointer to the field for the named method, or nil.
func (c *Console) Method(name string) *LogFunc {
	switch name {
	case "log":
		return &c.Log
	case "error":
		return &c.Error
	case "warn":
		return &c.Warn
	case "info":
		return &c.Info
	case "debug":
		return &c.Debug
	}
	return nil
}

// NewConsole returns a console that writes one line per call to w.
// Non-log levels are prefixed with their upper-cased name.
func NewConsole(w io.Writer) *Console {
	var mu sync.Mutex
	line := func(prefix string) LogFunc {
		return func(args ...any) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = fmt.Sprint(a)
			}
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(w, prefix+strings.Join(parts, " "))
		}
	}
	return &Console{
		Log:   line(""),
		Error: line("ERROR "),
		Warn:  line("WARN "),
		Info:  line("INFO "),
		Debug: line("DEBUG "),
	}
}
