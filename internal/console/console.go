// Package console wraps the page console and the window failure signals.
//
// Every wrapped method calls the original first, with identical arguments,
// before any capture logic runs. Capture runs under capture.Context.Guard, so a
// failure while rendering or emitting is reported through the original error
// method and never reaches the caller.
package console

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/host"
	"github.com/dev-console/pagetap/internal/serialize"
	"github.com/dev-console/pagetap/internal/types"
)

const (
	uncaughtPrefix  = "Uncaught Error: "
	rejectionPrefix = "Unhandled Promise Rejection: "
)

// Install wraps the five methods of con and listens for uncaught errors and
// unhandled rejections on events. The unwrapped error method becomes the
// context's fault reporter. href returns the current page location.
func Install(ctx *capture.Context, con *host.Console, events *host.EventTarget, href func() string) {
	if href == nil {
		href = func() string { return "" }
	}
	if con != nil {
		if con.Error != nil {
			ctx.SetFaultReporter(capture.FaultFunc(con.Error))
		}
		for _, level := range types.ConsoleLevels {
			slot := con.Method(string(level))
			if slot == nil || *slot == nil {
				continue
			}
			*slot = wrap(ctx, level, *slot, href)
		}
	}
	if events != nil {
		events.AddEventListener(host.EventError, func(ev host.Event) {
			ctx.Guard("window.error", func() { captureUncaught(ctx, ev, href) })
		})
		events.AddEventListener(host.EventUnhandledRejection, func(ev host.Event) {
			ctx.Guard("window.unhandledrejection", func() { captureRejection(ctx, ev, href) })
		})
	}
}

func wrap(ctx *capture.Context, level types.ConsoleLevel, original host.LogFunc, href func() string) host.LogFunc {
	site := "console." + string(level)
	return func(args ...any) {
		original(args...)
		ctx.Guard(site, func() { captureCall(ctx, level, args, href) })
	}
}

func captureCall(ctx *capture.Context, level types.ConsoleLevel, args []any, href func() string) {
	max := ctx.MaxLength()
	rendered := make([]string, len(args))
	serialized := make([]string, len(args))
	for i, arg := range args {
		rendered[i] = serialize.Truncate(renderMessage(arg), max)
		serialized[i] = renderArg(arg, max)
	}
	ctx.EmitCustom(types.TagConsole, types.ConsolePayload{
		Level:     level,
		Message:   strings.Join(rendered, " "),
		Args:      serialized,
		Timestamp: types.Millis(ctx.Now()),
		URL:       href(),
	})
}

func captureUncaught(ctx *capture.Context, ev host.Event, href func() string) {
	e, ok := ev.(*host.ErrorEvent)
	if !ok {
		return
	}
	max := ctx.MaxLength()
	msg := e.Message
	arg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = host.ErrorMessage(e.Err)
		}
		arg = renderError(e.Err)
	}
	ctx.EmitCustom(types.TagConsole, types.ConsolePayload{
		Level:     types.LevelError,
		Message:   uncaughtPrefix + serialize.Truncate(msg, max),
		Args:      []string{serialize.Truncate(arg, max)},
		Timestamp: types.Millis(ctx.Now()),
		URL:       href(),
		Source:    e.Filename,
		Line:      e.Line,
		Column:    e.Column,
	})
}

func captureRejection(ctx *capture.Context, ev host.Event, href func() string) {
	e, ok := ev.(*host.RejectionEvent)
	if !ok {
		return
	}
	max := ctx.MaxLength()
	ctx.EmitCustom(types.TagConsole, types.ConsolePayload{
		Level:     types.LevelError,
		Message:   rejectionPrefix + serialize.Truncate(renderMessage(e.Reason), max),
		Args:      []string{renderArg(e.Reason, max)},
		Timestamp: types.Millis(ctx.Now()),
		URL:       href(),
	})
}

// renderMessage is the human-readable form of one argument: strings verbatim,
// errors as "Name: message\nstack", everything else pretty-printed JSON with
// string coercion as the fallback.
func renderMessage(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case error:
		return renderError(v)
	}
	data, err := json.MarshalIndent(arg, "", "  ")
	if err != nil {
		return serialize.Coerce(arg)
	}
	return string(data)
}

// renderArg is the compact per-argument serialization stored in args.
func renderArg(arg any, max int) string {
	switch v := arg.(type) {
	case string:
		return serialize.Truncate(v, max)
	case error:
		return serialize.Truncate(renderError(v), max)
	}
	data, err := json.Marshal(arg)
	if err != nil {
		return serialize.Truncate(serialize.Coerce(arg), max)
	}
	return serialize.Truncate(string(data), max)
}

// renderError formats err as "Name: message" plus its stack. A typed nil
// error has nothing to render and is coerced instead.
func renderError(err error) string {
	if v := reflect.ValueOf(err); v.Kind() == reflect.Pointer && v.IsNil() {
		return serialize.Coerce(err)
	}
	out := host.ErrorName(err) + ": " + host.ErrorMessage(err)
	if stack := host.ErrorStack(err); stack != "" {
		out += "\n" + stack
	}
	return out
}
