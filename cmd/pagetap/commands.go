// commands.go — Subcommand implementations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dev-console/pagetap/internal/activation"
	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/collector"
	"github.com/dev-console/pagetap/internal/config"
	"github.com/dev-console/pagetap/internal/export"
	"github.com/dev-console/pagetap/internal/host"
	"github.com/dev-console/pagetap/internal/state"
	"github.com/dev-console/pagetap/internal/substrate"
	"github.com/dev-console/pagetap/internal/tap"
	"github.com/dev-console/pagetap/internal/types"
	"github.com/dev-console/pagetap/internal/util"
)

// fetchResult is printed by the fetch command.
type fetchResult struct {
	URL       string `json:"url"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Events    int    `json:"events"`
	Export    string `json:"export"`
	HAR       string `json:"har,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func runFetch(c *cli, args []string) error {
	fs := c.flagSet()
	method := fs.String("method", http.MethodGet, "request method")
	data := fs.String("data", "", "request body")
	headers := fs.StringArrayP("header", "H", nil, `request header "Name: value" (repeatable)`)
	harPath := fs.String("har", "", "also write a HAR document to this path")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	tab := fs.String("tab", "", "resolve activation from the url and this tab's persisted flag instead of forcing it")
	fs.String("collector-url", "", "stream custom events to this collector")
	fs.String("export-dir", "", "directory for the session export")
	fs.Bool("compress", false, "zstd-compress the session export")
	fs.Int("max-length", 0, "payload truncation limit in characters")
	fs.Bool("record-canvas", false, "ask the recorder to capture canvas content")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: fetch takes exactly one url", errUsage)
	}
	target := fs.Arg(0)
	if u, err := url.Parse(target); err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: %q is not an absolute url", errUsage, target)
	}
	header, err := parseHeaders(*headers)
	if err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}

	win, err := host.NewWindow(host.WindowOptions{URL: target, Output: c.stderr, Logger: c.logger})
	if err != nil {
		return err
	}
	sub, remote, err := newSubstrate(cfg, target, c)
	if err != nil {
		return err
	}
	opts := tap.Options{
		MaxLength:     cfg.MaxLength,
		RecordCanvas:  cfg.RecordCanvas,
		ForwardCustom: cfg.ForwardCustom,
		Logger:        c.logger,
	}
	if *tab == "" {
		policy := activation.Forced()
		opts.Policy = &policy
	} else if opts.Store, err = tabStore(*tab); err != nil {
		return err
	}
	ctrl, err := tap.Install(win, sub, opts)
	if err != nil {
		return err
	}

	res := fetchResult{URL: target}
	reqCtx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	var body io.Reader
	if *data != "" {
		body = strings.NewReader(*data)
	}
	resp, ferr := win.Fetch(reqCtx, strings.ToUpper(*method), target, body, header)
	if ferr != nil {
		res.Error = ferr.Error()
	} else {
		res.Status = resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	if err := ctrl.Stop(); err != nil {
		c.logger.Warn("stop recording", "error", err)
	}
	if remote != nil {
		res.SessionID = remote.SessionID()
		if n := remote.Dropped(); n > 0 {
			c.logger.Warn("collector dropped batches", "count", n)
		}
	}

	dir := cfg.ExportDir
	if dir == "" {
		if dir, err = state.ExportsDir(); err != nil {
			return err
		}
	}
	if res.Export, err = ctrl.ExportFile(dir, cfg.ExportCompress); err != nil {
		return err
	}
	if *harPath != "" {
		if err := writeHARFile(*harPath, ctrl); err != nil {
			return err
		}
		res.HAR = *harPath
	}
	res.Events = ctrl.Count()

	if err := writeJSON(c.stdout, res); err != nil {
		return err
	}
	if ferr != nil {
		return fmt.Errorf("fetch %s: %w", target, ferr)
	}
	return nil
}

// newSubstrate picks the remote substrate when a collector is configured and
// the in-process loopback otherwise.
func newSubstrate(cfg config.Config, page string, c *cli) (substrate.Substrate, *substrate.Remote, error) {
	if cfg.CollectorURL == "" {
		return substrate.NewLoopback(nil), nil, nil
	}
	remote, err := substrate.NewRemote(substrate.RemoteOptions{
		BaseURL:       cfg.CollectorURL,
		Page:          page,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Logger:        c.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return remote, remote, nil
}

// tabStore opens the persisted activation flags for tab under the state dir.
func tabStore(tab string) (*activation.FileStore, error) {
	dir, err := state.TabsDir()
	if err != nil {
		return nil, err
	}
	store, err := activation.NewFileStore(dir, tab)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return store, nil
}

func parseHeaders(lines []string) (http.Header, error) {
	header := http.Header{}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: header %q must look like \"Name: value\"", errUsage, line)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return header, nil
}

func writeHARFile(path string, ctrl *capture.Controller) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create har file: %w", err)
	}
	if err := ctrl.ExportHAR(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runCollect(c *cli, args []string) error {
	fs := c.flagSet()
	fs.String("addr", "", "listen address")
	fs.String("db", "", "sqlite database path")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: collect takes no arguments", errUsage)
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}

	dbPath := cfg.Collector.DBPath
	if dbPath == "" {
		if dbPath, err = state.CollectorDBFile(); err != nil {
			return err
		}
	}
	store, err := collector.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := collector.NewServer(collector.Options{
		Store:     store,
		RateLimit: cfg.Collector.RateLimit,
		Burst:     cfg.Collector.Burst,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", cfg.Collector.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Collector.Addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, ln, srv.Handler(), c, dbPath)
}

// serve runs handler on ln until ctx is cancelled, then shuts down gracefully.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, c *cli, dbPath string) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	util.SafeGo(c.logger, func() {
		errCh <- httpSrv.Serve(ln)
	})
	c.logger.Info("collector listening", "addr", ln.Addr().String(), "db", dbPath)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("collector: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("collector shutdown: %w", err)
	}
	c.logger.Info("collector stopped")
	return nil
}

func runQuery(c *cli, args []string) error {
	fs := c.flagSet()
	tag := fs.String("tag", "", "only custom events with this tag (console, network, nav)")
	limit := fs.Int("limit", 20, "sessions to list when no id is given")
	fs.String("collector-url", "", "collector root url")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("%w: query takes at most one session id", errUsage)
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if cfg.CollectorURL == "" {
		return fmt.Errorf("%w: no collector url configured", errUsage)
	}
	base := strings.TrimRight(cfg.CollectorURL, "/")

	var endpoint string
	q := url.Values{}
	if fs.NArg() == 0 {
		endpoint = base + "/sessions"
		q.Set("limit", fmt.Sprint(*limit))
	} else {
		endpoint = base + "/sessions/" + url.PathEscape(fs.Arg(0)) + "/events"
		if *tag != "" {
			q.Set("tag", *tag)
		}
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("query collector: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("query collector: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	if fs.NArg() == 0 {
		var sessions []types.SessionInfo
		if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
			return fmt.Errorf("decode sessions: %w", err)
		}
		return writeJSON(c.stdout, sessions)
	}
	var events []types.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return fmt.Errorf("decode events: %w", err)
	}
	return writeJSON(c.stdout, events)
}

func runHAR(c *cli, args []string) error {
	fs := c.flagSet()
	out := fs.StringP("output", "o", "", "write the HAR document here instead of stdout")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: har takes exactly one export file", errUsage)
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	events, err := capture.ReadExport(f)
	f.Close()
	if err != nil {
		return err
	}
	har := export.BuildHAR(events)

	if *out == "" {
		return writeJSON(c.stdout, har)
	}
	dst, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create har file: %w", err)
	}
	if err := writeJSON(dst, har); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	return nil
}
