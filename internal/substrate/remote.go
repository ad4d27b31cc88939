// remote.go — Substrate that forwards custom events to a collector over HTTP.
// Events are batched and flushed when the batch fills, on an interval, and on
// stop. Batches are zstd-compressed. A failed flush drops the batch; there are
// no retries.
package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dev-console/pagetap/internal/types"
	"github.com/dev-console/pagetap/internal/util"
)

// RemoteOptions configures a Remote substrate.
type RemoteOptions struct {
	BaseURL       string // collector root, e.g. http://127.0.0.1:7891
	Page          string // page location reported when the session opens
	Client        *http.Client
	BatchSize     int           // defaults to 50
	FlushInterval time.Duration // defaults to 2s
	Now           func() time.Time
	Logger        *slog.Logger
}

// Remote streams custom events to a pagetap collector.
type Remote struct {
	opts    RemoteOptions
	encoder *zstd.Encoder

	mu        sync.Mutex
	sessionID string
	pending   []types.Event
	kick      chan struct{}
	done      chan struct{}
	flushed   chan struct{}
	closed    bool
	dropped   int
}

// NewRemote validates opts and returns an idle remote substrate.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("substrate: remote requires a collector url")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("substrate: create zstd encoder: %w", err)
	}
	return &Remote{opts: opts, encoder: enc}, nil
}

// SessionID returns the collector session id, empty before Record.
func (r *Remote) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Dropped returns the number of events lost to failed flushes.
func (r *Remote) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Record opens a session on the collector and starts the flush loop.
// The remote substrate has no DOM, so opts.Emit is never called.
func (r *Remote) Record(opts RecordOptions) (StopFunc, error) {
	r.mu.Lock()
	if r.sessionID != "" {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	r.mu.Unlock()

	id, err := r.openSession(opts.RecordCanvas)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessionID = id
	r.kick = make(chan struct{}, 1)
	r.done = make(chan struct{})
	r.flushed = make(chan struct{})
	r.mu.Unlock()

	util.SafeGo(r.opts.Logger, r.loop)

	var once sync.Once
	return func() error {
		once.Do(func() {
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			close(r.done)
			<-r.flushed
		})
		return nil
	}, nil
}

func (r *Remote) openSession(canvas bool) (string, error) {
	body, err := json.Marshal(types.CreateSessionRequest{Page: r.opts.Page, RecordCanvas: canvas})
	if err != nil {
		return "", fmt.Errorf("substrate: encode session request: %w", err)
	}
	resp, err := r.opts.Client.Post(r.opts.BaseURL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("substrate: open session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("substrate: open session: collector returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var info types.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("substrate: decode session: %w", err)
	}
	return info.ID, nil
}

// AddCustomEvent queues a custom event. It never blocks on the network.
func (r *Remote) AddCustomEvent(tag types.Tag, payload json.RawMessage) error {
	r.mu.Lock()
	if r.sessionID == "" || r.closed {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.pending = append(r.pending, types.Event{
		Kind:      types.KindCustom,
		Tag:       tag,
		Payload:   append(json.RawMessage(nil), payload...),
		Timestamp: types.Millis(r.opts.Now()),
	})
	full := len(r.pending) >= r.opts.BatchSize
	kick := r.kick
	r.mu.Unlock()

	if full {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (r *Remote) loop() {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()
	defer close(r.flushed)
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.kick:
			r.flush()
		case <-r.done:
			r.flush()
			return
		}
	}
}

func (r *Remote) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	id := r.sessionID
	r.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := r.post(id, batch); err != nil {
		r.opts.Logger.Warn("dropping event batch", "session", id, "events", len(batch), "error", err)
		r.mu.Lock()
		r.dropped += len(batch)
		r.mu.Unlock()
	}
}

func (r *Remote) post(id string, batch []types.Event) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	compressed := r.encoder.EncodeAll(raw, nil)

	timeout := r.opts.Client.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.BaseURL+"/sessions/"+id+"/events", bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")

	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("post batch: collector returned %s", resp.Status)
	}
	return nil
}
