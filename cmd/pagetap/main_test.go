package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-console/pagetap/internal/collector"
	"github.com/dev-console/pagetap/internal/export"
	"github.com/dev-console/pagetap/internal/state"
	"github.com/dev-console/pagetap/internal/types"
)

func runCapture(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 2},
		{"version", []string{"--version"}, 0},
		{"help", []string{"help"}, 0},
		{"unknown command", []string{"replay"}, 2},
		{"fetch without url", []string{"fetch"}, 2},
		{"fetch relative url", []string{"fetch", "/api"}, 2},
		{"bad flag", []string{"har", "--nope", "x"}, 2},
		{"bad header", []string{"fetch", "http://example.com", "-H", "novalue"}, 2},
		{"invalid config", []string{"fetch", "http://example.com", "--log-level", "loud"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, _, _ := runCapture(tc.args...)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestFetchExportsSessionAndHAR(t *testing.T) {
	t.Parallel()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer api.Close()
	dir := t.TempDir()
	harPath := filepath.Join(dir, "out.har")

	code, stdout, stderr := runCapture("fetch", api.URL+"/items?x=1",
		"--method", "post", "--data", `{"a":1}`, "-H", "Content-Type: application/json",
		"--export-dir", dir, "--har", harPath, "--log-level", "warn")
	require.Equal(t, 0, code, stderr)

	var res fetchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, dir, filepath.Dir(res.Export))
	assert.True(t, strings.HasSuffix(res.Export, ".json"))

	var har export.HARLog
	raw, err := os.ReadFile(harPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &har))
	require.Len(t, har.Log.Entries, 1)
	assert.Equal(t, "POST", har.Log.Entries[0].Request.Method)
	assert.Equal(t, http.StatusCreated, har.Log.Entries[0].Response.Status)

	// The har command rebuilds the same document from the export file.
	converted := filepath.Join(dir, "converted.har")
	code, _, stderr = runCapture("har", res.Export, "-o", converted)
	require.Equal(t, 0, code, stderr)
	var again export.HARLog
	raw, err = os.ReadFile(converted)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &again))
	assert.Equal(t, har.Log.Entries, again.Log.Entries)
}

func TestFetchCompressedExportConverts(t *testing.T) {
	t.Parallel()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer api.Close()
	dir := t.TempDir()

	code, stdout, stderr := runCapture("fetch", api.URL, "--export-dir", dir, "--compress", "--log-level", "error")
	require.Equal(t, 0, code, stderr)
	var res fetchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, strings.HasSuffix(res.Export, ".json.zst"))

	code, stdout, stderr = runCapture("har", res.Export)
	require.Equal(t, 0, code, stderr)
	var har export.HARLog
	require.NoError(t, json.Unmarshal([]byte(stdout), &har))
	require.Len(t, har.Log.Entries, 1)
	assert.Equal(t, "hello", har.Log.Entries[0].Response.Content.Text)
}

func TestFetchNetworkFailureStillExports(t *testing.T) {
	t.Parallel()
	api := httptest.NewServer(http.NotFoundHandler())
	addr := api.URL
	api.Close()
	dir := t.TempDir()

	code, stdout, _ := runCapture("fetch", addr, "--export-dir", dir, "--log-level", "error")
	assert.Equal(t, 1, code)
	var res fetchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 2, res.Events)
	assert.FileExists(t, res.Export)
}

func TestFetchStreamsToCollectorAndQueries(t *testing.T) {
	t.Parallel()
	store, err := collector.OpenStore(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	defer store.Close()
	srv, err := collector.NewServer(collector.Options{Store: store})
	require.NoError(t, err)
	defer srv.Close()
	coll := httptest.NewServer(srv.Handler())
	defer coll.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer api.Close()

	code, stdout, stderr := runCapture("fetch", api.URL+"/ping",
		"--collector-url", coll.URL, "--export-dir", t.TempDir(), "--log-level", "error")
	require.Equal(t, 0, code, stderr)
	var res fetchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	require.NotEmpty(t, res.SessionID)

	code, stdout, stderr = runCapture("query", res.SessionID, "--collector-url", coll.URL, "--tag", "network")
	require.Equal(t, 0, code, stderr)
	var events []types.Event
	require.NoError(t, json.Unmarshal([]byte(stdout), &events))
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, types.TagNetwork, ev.Tag)
	}

	code, stdout, stderr = runCapture("query", "--collector-url", coll.URL)
	require.Equal(t, 0, code, stderr)
	var sessions []types.SessionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, res.SessionID, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].EventCount)

	code, _, _ = runCapture("query", "missing", "--collector-url", coll.URL)
	assert.Equal(t, 1, code)
}

func TestFetchTabActivationPersists(t *testing.T) {
	t.Setenv(state.StateDirEnv, t.TempDir())
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer api.Close()
	exports := t.TempDir()

	code, _, stderr := runCapture("fetch", api.URL+"/page", "--tab", "tab-7", "--export-dir", exports)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not activated")

	code, _, stderr = runCapture("fetch", api.URL+"/page?testmode=1", "--tab", "tab-7", "--export-dir", exports, "--log-level", "error")
	require.Equal(t, 0, code, stderr)

	code, _, stderr = runCapture("fetch", api.URL+"/page", "--tab", "tab-7", "--export-dir", exports, "--log-level", "error")
	assert.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(os.Getenv(state.StateDirEnv), "tabs", "tab-7.json"))

	code, _, _ = runCapture("fetch", api.URL, "--tab", "../escape", "--export-dir", exports)
	assert.Equal(t, 2, code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &cli{stdout: io.Discard, stderr: io.Discard, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("up"))
		}), c, "mem")
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
