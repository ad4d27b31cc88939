package network

import (
	"strings"
	"sync"

	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/host"
	"github.com/dev-console/pagetap/internal/types"
)

// Error text for XHR failure signals.
const (
	xhrNetworkError = "XHR network error"
	xhrAborted      = "XHR request aborted"
	xhrTimedOut     = "XHR request timed out"
)

// WrapXHRFactory returns a factory whose instances are individually
// instrumented around the ones next produces.
func WrapXHRFactory(ctx *capture.Context, next host.XHRFactory) host.XHRFactory {
	return func() host.XHR {
		return &instrumentedXHR{XHR: next(), ctx: ctx, headers: make(map[string]string)}
	}
}

// instrumentedXHR decorates Open, SetRequestHeader and Send. Every other
// method is the wrapped instance's own.
type instrumentedXHR struct {
	host.XHR
	ctx *capture.Context

	mu      sync.Mutex
	method  string
	url     string
	headers map[string]string
}

func (x *instrumentedXHR) Open(method, rawURL string) error {
	x.ctx.Guard("xhr.open", func() {
		x.mu.Lock()
		x.method = strings.ToUpper(method)
		x.url = rawURL
		x.mu.Unlock()
	})
	return x.XHR.Open(method, rawURL)
}

func (x *instrumentedXHR) SetRequestHeader(name, value string) error {
	x.ctx.Guard("xhr.setRequestHeader", func() {
		key, joined := strings.ToLower(name), value
		x.mu.Lock()
		if prev, ok := x.headers[key]; ok {
			joined = prev + ", " + value
		}
		x.headers[key] = joined
		x.mu.Unlock()
	})
	return x.XHR.SetRequestHeader(name, value)
}

// Send emits the start event and attaches the completion listeners before
// delegating, so a completion that fires immediately is still observed.
func (x *instrumentedXHR) Send(body any) error {
	var id string
	x.ctx.Guard("xhr.send", func() { id = x.begin(body) })

	err := x.XHR.Send(body)
	if err != nil && id != "" {
		x.ctx.Guard("xhr.send", func() { x.fail(id, err.Error()) })
	}
	return err
}

func (x *instrumentedXHR) begin(body any) string {
	x.mu.Lock()
	method, rawURL := x.method, x.url
	headers := make(map[string]string, len(x.headers))
	for k, v := range x.headers {
		headers[k] = v
	}
	x.mu.Unlock()

	id := x.ctx.NewID()
	start := x.ctx.Now()
	requestBody := x.ctx.Serialize(body)
	x.ctx.Begin(id, start)
	x.ctx.EmitCustom(types.TagNetwork, types.NetworkStart{
		Phase:       types.PhaseStart,
		ID:          id,
		API:         types.APIXHR,
		URL:         rawURL,
		Method:      method,
		Headers:     headers,
		RequestBody: requestBody,
		Timestamp:   types.Millis(start),
	})

	on := func(eventType string, fn func()) {
		x.XHR.AddEventListener(eventType, func(host.Event) {
			x.ctx.Guard("xhr."+eventType, fn)
		})
	}
	on(host.EventLoad, func() { x.complete(id) })
	on(host.EventLoadEnd, func() {
		if !x.ctx.Pending(id) {
			return
		}
		if x.XHR.Status() == 0 {
			x.fail(id, xhrNetworkError)
			return
		}
		x.complete(id)
	})
	on(host.EventError, func() { x.fail(id, xhrNetworkError) })
	on(host.EventAbort, func() { x.fail(id, xhrAborted) })
	on(host.EventTimeout, func() { x.fail(id, xhrTimedOut) })
	return id
}

func (x *instrumentedXHR) complete(id string) {
	start, ok := x.ctx.Complete(id)
	if !ok {
		return
	}
	raw := x.XHR.GetAllResponseHeaders()
	class, body := x.responseBody()
	status := x.XHR.Status()
	duration, ts := x.ctx.Elapsed(start)
	x.ctx.EmitCustom(types.TagNetwork, types.NetworkEnd{
		Phase:        types.PhaseEnd,
		ID:           id,
		Status:       status,
		StatusText:   x.XHR.StatusText(),
		OK:           statusOK(status),
		Headers:      host.ParseRawHeaders(raw),
		RawHeaders:   raw,
		ResponseBody: body,
		ResponseType: class,
		DurationMs:   duration,
		Timestamp:    ts,
	})
}

// responseBody classifies by the declared response type first, then by the
// response content type.
func (x *instrumentedXHR) responseBody() (types.ResponseType, string) {
	contentType := x.XHR.GetResponseHeader("Content-Type")
	switch x.XHR.ResponseType() {
	case "json":
		return types.ResponseJSON, x.ctx.Serialize(x.XHR.Response())
	case "arraybuffer", "blob":
		size := int64(-1)
		if b, ok := x.XHR.Response().([]byte); ok {
			size = int64(len(b))
		}
		return types.ResponseBinary, binaryPlaceholder(contentType, size)
	}

	class := Classify(contentType)
	text, err := x.XHR.ResponseText()
	switch {
	case err != nil:
		return class, unreadablePlaceholder(err)
	case class == types.ResponseBinary:
		return class, binaryPlaceholder(contentType, int64(len(text)))
	}
	return class, x.ctx.Serialize(text)
}

func (x *instrumentedXHR) fail(id, message string) {
	start, ok := x.ctx.Complete(id)
	if !ok {
		return
	}
	duration, ts := x.ctx.Elapsed(start)
	x.ctx.EmitCustom(types.TagNetwork, types.NetworkError{
		Phase:      types.PhaseError,
		ID:         id,
		Error:      message,
		DurationMs: duration,
		Timestamp:  ts,
	})
}
