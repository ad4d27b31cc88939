package network

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/host"
	"github.com/dev-console/pagetap/internal/types"
)

// formBodyLimit bounds how much of a form-encoded request body is buffered for decoding.
const formBodyLimit = 1 << 20

// Transport is the fetch path decorator. It records a start event before
// delegating and a terminal event once the underlying round trip settles.
// The response handed back to the caller carries the complete body.
type Transport struct {
	ctx  *capture.Context
	next http.RoundTripper
}

// WrapTransport decorates next, http.DefaultTransport when nil.
func WrapTransport(ctx *capture.Context, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{ctx: ctx, next: next}
}

// Unwrap returns the decorated transport.
func (t *Transport) Unwrap() http.RoundTripper { return t.next }

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var id string
	t.ctx.Guard("fetch.start", func() {
		req, id = t.begin(req)
	})

	resp, err := t.next.RoundTrip(req)
	if id == "" {
		return resp, err
	}
	if err != nil {
		t.ctx.Guard("fetch.error", func() { t.fail(id, err) })
		return resp, err
	}
	t.ctx.Guard("fetch.end", func() { t.finish(id, resp) })
	return resp, err
}

// begin emits the start event. It returns the request to delegate, which is a
// clone when the body had to be peeked to serialize it.
func (t *Transport) begin(req *http.Request) (*http.Request, string) {
	body, out, err := t.requestBody(req)
	if err != nil {
		t.ctx.ReportFault("fetch.request_body", err)
	}

	id := t.ctx.NewID()
	start := t.ctx.Now()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	t.ctx.Begin(id, start)
	t.ctx.EmitCustom(types.TagNetwork, types.NetworkStart{
		Phase:       types.PhaseStart,
		ID:          id,
		API:         types.APIFetch,
		URL:         req.URL.String(),
		Method:      method,
		Headers:     headerMap(req.Header),
		RequestBody: body,
		Timestamp:   types.Millis(start),
	})
	return out, id
}

// requestBody serializes the outgoing body without consuming it.
// GetBody yields an independent copy when available; otherwise a prefix is
// read and replayed in front of the remainder on a cloned request.
func (t *Transport) requestBody(req *http.Request) (string, *http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return "", req, nil
	}
	contentType := req.Header.Get("Content-Type")
	limit := t.peekLimit(contentType)

	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return "", req, err
		}
		defer rc.Close()
		prefix, err := io.ReadAll(io.LimitReader(rc, limit+1))
		if err != nil {
			return "", req, err
		}
		return t.serializeBody(contentType, prefix, int64(len(prefix)) <= limit, req.ContentLength), req, nil
	}

	prefix, replay, err := peek(req.Body, limit+1)
	clone := req.Clone(req.Context())
	clone.Body = replay
	if err != nil {
		return "", clone, err
	}
	return t.serializeBody(contentType, prefix, int64(len(prefix)) <= limit, req.ContentLength), clone, nil
}

func (t *Transport) peekLimit(contentType string) int64 {
	switch mediaType(contentType) {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return formBodyLimit
	}
	return int64(t.ctx.MaxLength()) * utf8.UTFMax
}

// serializeBody applies the serializer to a request body prefix. complete is
// false when the body continues past the prefix.
func (t *Transport) serializeBody(contentType string, prefix []byte, complete bool, size int64) string {
	mt := mediaType(contentType)
	if complete {
		switch mt {
		case "application/x-www-form-urlencoded":
			if values, err := url.ParseQuery(string(prefix)); err == nil {
				return t.ctx.Serialize(values)
			}
		case "multipart/form-data":
			if form, ok := parseMultipart(contentType, prefix); ok {
				defer form.RemoveAll()
				return t.ctx.Serialize(form)
			}
		}
	}
	if Classify(contentType) == types.ResponseBinary || mt == "application/octet-stream" || !utf8.Valid(trimPartialRune(prefix)) {
		if complete {
			return t.ctx.Serialize(prefix)
		}
		return binaryPlaceholder(contentType, size)
	}
	return t.ctx.Serialize(string(prefix))
}

func parseMultipart(contentType string, body []byte) (*multipart.Form, bool) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["boundary"] == "" {
		return nil, false
	}
	form, err := multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(formBodyLimit)
	if err != nil {
		return nil, false
	}
	return form, true
}

// trimPartialRune drops an incomplete UTF-8 sequence cut off at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			break
		}
	}
	return b
}

// finish arranges the end event. Bodies that need reading are observed as the
// caller consumes them, so the response is returned as soon as headers arrive.
func (t *Transport) finish(id string, resp *http.Response) {
	contentType := resp.Header.Get("Content-Type")
	class := Classify(contentType)

	switch {
	case resp.Body == nil || resp.Body == http.NoBody:
		t.end(id, resp, class, "")
	case class == types.ResponseBinary:
		t.end(id, resp, class, binaryPlaceholder(contentType, resp.ContentLength))
	case isStream(contentType):
		t.end(id, resp, class, "[Stream: "+mediaType(contentType)+"]")
	default:
		resp.Body = &captureBody{
			rc:    resp.Body,
			limit: t.ctx.MaxLength() * utf8.UTFMax,
			done: func(prefix []byte, err error) {
				t.ctx.Guard("fetch.end", func() {
					body := t.ctx.Serialize(string(trimPartialRune(prefix)))
					if err != nil {
						body = unreadablePlaceholder(err)
					}
					t.end(id, resp, class, body)
				})
			},
		}
	}
}

// end claims the completion gate and emits the end event.
func (t *Transport) end(id string, resp *http.Response, class types.ResponseType, body string) {
	start, ok := t.ctx.Complete(id)
	if !ok {
		return
	}
	duration, ts := t.ctx.Elapsed(start)
	t.ctx.EmitCustom(types.TagNetwork, types.NetworkEnd{
		Phase:        types.PhaseEnd,
		ID:           id,
		Status:       resp.StatusCode,
		StatusText:   statusText(resp),
		OK:           statusOK(resp.StatusCode),
		Headers:      headerMap(resp.Header),
		ResponseBody: body,
		ResponseType: class,
		DurationMs:   duration,
		Timestamp:    ts,
	})
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func (t *Transport) fail(id string, err error) {
	start, ok := t.ctx.Complete(id)
	if !ok {
		return
	}
	duration, ts := t.ctx.Elapsed(start)
	t.ctx.EmitCustom(types.TagNetwork, types.NetworkError{
		Phase:      types.PhaseError,
		ID:         id,
		Error:      errorText(err),
		Stack:      host.ErrorStack(err),
		DurationMs: duration,
		Timestamp:  ts,
	})
}

func errorText(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return host.ErrorMessage(err)
}

// replayBody serves a peeked prefix followed by the rest of the original body.
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (r *replayBody) Close() error { return r.closer.Close() }

// captureBody passes the response through to the caller and keeps the first
// limit bytes it reads. done runs once: at EOF, on a read error, when the
// prefix is full, or on Close.
type captureBody struct {
	rc    io.ReadCloser
	limit int
	done  func(prefix []byte, err error)

	mu   sync.Mutex
	buf  []byte
	once sync.Once
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.mu.Lock()
	if room := b.limit - len(b.buf); room > 0 && n > 0 {
		b.buf = append(b.buf, p[:min(n, room)]...)
	}
	full := len(b.buf) >= b.limit
	b.mu.Unlock()

	switch {
	case err == io.EOF || (err == nil && full):
		b.settle(nil)
	case err != nil:
		b.settle(err)
	}
	return n, err
}

// Close settles with whatever the caller read before closing.
func (b *captureBody) Close() error {
	b.settle(nil)
	return b.rc.Close()
}

func (b *captureBody) settle(err error) {
	b.once.Do(func() {
		b.mu.Lock()
		prefix := bytes.Clone(b.buf)
		b.mu.Unlock()
		b.done(prefix, err)
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// peek reads up to limit bytes from rc. The returned body yields the same
// byte stream rc would have, including a read error at the same position.
func peek(rc io.ReadCloser, limit int64) ([]byte, io.ReadCloser, error) {
	prefix, err := io.ReadAll(io.LimitReader(rc, limit))
	rest := io.Reader(rc)
	if err != nil {
		rest = errReader{err: err}
	}
	return prefix, &replayBody{Reader: io.MultiReader(bytes.NewReader(prefix), rest), closer: rc}, err
}
