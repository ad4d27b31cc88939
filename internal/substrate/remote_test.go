package substrate

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-console/pagetap/internal/types"
)

type fakeCollector struct {
	mu       sync.Mutex
	sessions []types.CreateSessionRequest
	batches  [][]types.Event
	fail     bool
}

func (f *fakeCollector) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sessions = append(f.sessions, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.SessionInfo{ID: "sess-1", RecordCanvas: req.RecordCanvas})
	})
	mux.HandleFunc("POST /sessions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.fail
		f.mu.Unlock()
		if fail {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "sess-1", r.PathValue("id"))
		assert.Equal(t, "zstd", r.Header.Get("Content-Encoding"))
		compressed, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		dec, err := zstd.NewReader(nil)
		require.NoError(t, err)
		defer dec.Close()
		raw, err := dec.DecodeAll(compressed, nil)
		require.NoError(t, err)

		var batch []types.Event
		require.NoError(t, json.Unmarshal(raw, &batch))
		f.mu.Lock()
		f.batches = append(f.batches, batch)
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(types.IngestResult{Accepted: len(batch)})
	})
	return mux
}

func (f *fakeCollector) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestRemoteFlushesOnBatchSizeAndStop(t *testing.T) {
	t.Parallel()
	fc := &fakeCollector{}
	srv := httptest.NewServer(fc.handler(t))
	defer srv.Close()

	r, err := NewRemote(RemoteOptions{BaseURL: srv.URL + "/", Page: "https://example.com", BatchSize: 2, FlushInterval: time.Hour})
	require.NoError(t, err)
	assert.ErrorIs(t, r.AddCustomEvent(types.TagNav, json.RawMessage(`{}`)), ErrNotRecording)

	stop, err := r.Record(RecordOptions{RecordCanvas: true})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", r.SessionID())

	require.NoError(t, r.AddCustomEvent(types.TagNav, json.RawMessage(`{"href":"a"}`)))
	require.NoError(t, r.AddCustomEvent(types.TagNav, json.RawMessage(`{"href":"b"}`)))
	assert.Eventually(t, func() bool { return fc.eventCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.AddCustomEvent(types.TagConsole, json.RawMessage(`{"message":"c"}`)))
	require.NoError(t, stop())
	assert.Equal(t, 3, fc.eventCount())
	assert.ErrorIs(t, r.AddCustomEvent(types.TagNav, json.RawMessage(`{}`)), ErrNotRecording)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.sessions, 1)
	assert.True(t, fc.sessions[0].RecordCanvas)
	assert.Equal(t, "https://example.com", fc.sessions[0].Page)
	assert.Equal(t, types.TagConsole, fc.batches[len(fc.batches)-1][0].Tag)
}

func TestRemoteDropsFailedBatches(t *testing.T) {
	t.Parallel()
	fc := &fakeCollector{fail: true}
	srv := httptest.NewServer(fc.handler(t))
	defer srv.Close()

	r, err := NewRemote(RemoteOptions{BaseURL: srv.URL, FlushInterval: time.Hour})
	require.NoError(t, err)
	stop, err := r.Record(RecordOptions{})
	require.NoError(t, err)
	require.NoError(t, r.AddCustomEvent(types.TagNav, json.RawMessage(`{}`)))
	require.NoError(t, stop())

	assert.Equal(t, 1, r.Dropped())
	assert.Zero(t, fc.eventCount())
}

func TestRemoteRecordFailsWhenCollectorRefuses(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = r.Record(RecordOptions{})
	assert.ErrorContains(t, err, "403")

	_, err = NewRemote(RemoteOptions{})
	assert.Error(t, err)
}
