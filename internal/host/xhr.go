// xhr.go — XHR capability and an implementation over net/http.
// Signals fire in browser order: exactly one of load, error, abort or timeout,
// followed by loadend.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dev-console/pagetap/internal/util"
)

// XHR ready states.
const (
	Unsent          = 0
	Opened          = 1
	HeadersReceived = 2
	Loading         = 3
	Done            = 4
)

// XHR is the asynchronous request object exposed to page code.
type XHR interface {
	Open(method, rawURL string) error
	SetRequestHeader(name, value string) error
	Send(body any) error
	Abort()
	AddEventListener(eventType string, fn Listener)
	SetTimeout(d time.Duration)
	SetResponseType(responseType string)
	ResponseType() string
	ReadyState() int
	Status() int
	StatusText() string
	Response() any
	ResponseText() (string, error)
	GetResponseHeader(name string) string
	GetAllResponseHeaders() string
}

// XHRFactory constructs a new XHR instance.
type XHRFactory func() XHR

// HTTPXHR runs requests on a goroutine using an http.Client.
type HTTPXHR struct {
	client *http.Client
	events *EventTarget
	logger *slog.Logger

	mu           sync.Mutex
	method       string
	url          string
	header       http.Header
	timeout      time.Duration
	responseType string
	readyState   int
	sent         bool
	aborted      bool
	cancel       context.CancelFunc
	status       int
	statusText   string
	respHeader   http.Header
	body         []byte
	done         chan struct{}
}

// NewHTTPXHR returns an unsent XHR backed by client (http.DefaultClient when nil).
func NewHTTPXHR(client *http.Client, logger *slog.Logger) *HTTPXHR {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPXHR{
		client: client,
		events: NewEventTarget(logger),
		logger: logger,
		header: make(http.Header),
		done:   make(chan struct{}),
	}
}

// HTTPXHRFactory returns a factory producing HTTPXHR instances sharing client.
func HTTPXHRFactory(client *http.Client, logger *slog.Logger) XHRFactory {
	return func() XHR { return NewHTTPXHR(client, logger) }
}

// Done is closed after loadend has been dispatched.
func (x *HTTPXHR) Done() <-chan struct{} { return x.done }

func (x *HTTPXHR) Open(method, rawURL string) error {
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("xhr open: %w", err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.sent {
		return ErrInvalidState
	}
	x.method = strings.ToUpper(method)
	x.url = rawURL
	x.readyState = Opened
	return nil
}

func (x *HTTPXHR) SetRequestHeader(name, value string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.readyState != Opened || x.sent {
		return ErrInvalidState
	}
	x.header.Add(name, value)
	return nil
}

func (x *HTTPXHR) SetTimeout(d time.Duration) {
	x.mu.Lock()
	x.timeout = d
	x.mu.Unlock()
}

func (x *HTTPXHR) SetResponseType(responseType string) {
	x.mu.Lock()
	x.responseType = responseType
	x.mu.Unlock()
}

func (x *HTTPXHR) AddEventListener(eventType string, fn Listener) {
	x.events.AddEventListener(eventType, fn)
}

// Send starts the request. The outcome is reported only through events.
func (x *HTTPXHR) Send(body any) error {
	x.mu.Lock()
	if x.readyState != Opened || x.sent {
		x.mu.Unlock()
		return ErrInvalidState
	}
	reader, contentType, err := encodeBody(body)
	if err != nil {
		x.mu.Unlock()
		return err
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if x.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), x.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	req, err := http.NewRequestWithContext(ctx, x.method, x.url, reader)
	if err != nil {
		cancel()
		x.mu.Unlock()
		return fmt.Errorf("xhr send: %w", err)
	}
	req.Header = x.header.Clone()
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	x.sent = true
	x.cancel = cancel
	x.mu.Unlock()

	util.SafeGo(x.logger, func() { x.run(ctx, cancel, req) })
	return nil
}

func (x *HTTPXHR) run(ctx context.Context, cancel context.CancelFunc, req *http.Request) {
	defer close(x.done)
	defer cancel()

	outcome := EventLoad
	resp, err := x.client.Do(req)
	var body []byte
	if err == nil {
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
	}

	x.mu.Lock()
	x.readyState = Done
	switch {
	case err == nil:
		x.status = resp.StatusCode
		x.statusText = strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
		x.respHeader = resp.Header
		x.body = body
	case x.aborted:
		outcome = EventAbort
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = EventTimeout
	default:
		outcome = EventError
		x.logger.Debug("xhr request failed", "url", x.url, "error", err)
	}
	loaded := int64(len(x.body))
	x.mu.Unlock()

	x.events.Dispatch(&ProgressEvent{Type: outcome, Loaded: loaded, Total: loaded})
	x.events.Dispatch(&ProgressEvent{Type: EventLoadEnd, Loaded: loaded, Total: loaded})
}

// Abort cancels an in-flight request. It has no effect before Send or after completion.
func (x *HTTPXHR) Abort() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.sent || x.readyState == Done || x.aborted {
		return
	}
	x.aborted = true
	x.cancel()
}

func (x *HTTPXHR) ResponseType() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.responseType
}

func (x *HTTPXHR) ReadyState() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.readyState
}

func (x *HTTPXHR) Status() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

func (x *HTTPXHR) StatusText() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.statusText
}

// Response returns the body decoded per the declared response type:
// string for "" and "text", a decoded value for "json" (nil when invalid),
// and a byte slice for "arraybuffer" and "blob".
func (x *HTTPXHR) Response() any {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.readyState != Done {
		return nil
	}
	switch x.responseType {
	case "", "text":
		return string(x.body)
	case "json":
		var v any
		if err := json.Unmarshal(x.body, &v); err != nil {
			return nil
		}
		return v
	case "arraybuffer", "blob":
		return bytes.Clone(x.body)
	}
	return nil
}

func (x *HTTPXHR) ResponseText() (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.responseType != "" && x.responseType != "text" {
		return "", ErrInvalidState
	}
	return string(x.body), nil
}

func (x *HTTPXHR) GetResponseHeader(name string) string {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.respHeader == nil {
		return ""
	}
	return strings.Join(x.respHeader.Values(name), ", ")
}

// GetAllResponseHeaders returns "name: value\r\n" lines with lower-cased names, sorted.
func (x *HTTPXHR) GetAllResponseHeaders() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return FormatRawHeaders(x.respHeader)
}

// FormatRawHeaders renders h the way getAllResponseHeaders does.
func FormatRawHeaders(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(strings.ToLower(name))
		b.WriteString(": ")
		b.WriteString(strings.Join(h[name], ", "))
		b.WriteString("\r\n")
	}
	return b.String()
}

// ParseRawHeaders parses getAllResponseHeaders output into a lower-cased header map.
func ParseRawHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(raw, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return headers
}

// encodeBody converts a Send argument into a request body and default content type.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "text/plain;charset=UTF-8", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded;charset=UTF-8", nil
	case *multipart.Form:
		return encodeMultipart(b)
	case io.Reader:
		return b, "", nil
	}
	return nil, "", fmt.Errorf("xhr send: unsupported body type %T", body)
}

func encodeMultipart(form *multipart.Form) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, values := range form.Value {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", fmt.Errorf("xhr send: %w", err)
			}
		}
	}
	for key, files := range form.File {
		for _, fh := range files {
			if err := copyFilePart(w, key, fh); err != nil {
				return nil, "", fmt.Errorf("xhr send: %w", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("xhr send: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func copyFilePart(w *multipart.Writer, key string, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := w.CreateFormFile(key, fh.Filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
