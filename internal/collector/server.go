// Package collector receives remote substrate traffic and serves stored sessions.
//
//	POST /sessions                    open a session            -> 201 SessionInfo
//	GET  /sessions                    list recent sessions      -> 200 []SessionInfo
//	GET  /sessions/{id}               one session               -> 200 SessionInfo
//	POST /sessions/{id}/events        append a batch (zstd ok)  -> 202 IngestResult
//	GET  /sessions/{id}/events?tag=   stored stream, filterable -> 200 []Event
package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/dev-console/pagetap/internal/types"
	"github.com/dev-console/pagetap/internal/util"
)

const (
	defaultMaxBatchBytes = 8 << 20
	maxDecodedBytes      = 64 << 20
	maxSessionBody       = 64 << 10
	defaultListLimit     = 50
)

// Options configures a Server.
type Options struct {
	Store *Store
	// RateLimit and Burst bound event batches per session.
	RateLimit     float64
	Burst         int
	MaxBatchBytes int64
	Now           func() time.Time
	NewID         func() string
	Logger        *slog.Logger
}

// Server is the collector HTTP API.
type Server struct {
	opts    Options
	decoder *zstd.Decoder

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer validates opts and builds a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("collector: store is required")
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = defaultMaxBatchBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBytes))
	if err != nil {
		return nil, fmt.Errorf("collector: create zstd decoder: %w", err)
	}
	return &Server{opts: opts, decoder: dec, limiters: make(map[string]*rate.Limiter)}, nil
}

// Close releases the decoder. The store is owned by the caller.
func (s *Server) Close() { s.decoder.Close() }

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/events", s.handleIngest)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	return mux
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSessionBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		util.JSONError(w, http.StatusBadRequest, "invalid session request: "+err.Error())
		return
	}
	info := types.SessionInfo{
		ID:           s.opts.NewID(),
		Page:         req.Page,
		RecordCanvas: req.RecordCanvas,
		CreatedAt:    types.Millis(s.opts.Now()),
	}
	if err := s.opts.Store.CreateSession(r.Context(), info); err != nil {
		s.opts.Logger.Error("create session", "error", err)
		util.JSONError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	s.opts.Logger.Info("session opened", "session", info.ID, "page", info.Page)
	util.JSONResponse(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			util.JSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sessions, err := s.opts.Store.Sessions(r.Context(), limit)
	if err != nil {
		s.opts.Logger.Error("list sessions", "error", err)
		util.JSONError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	util.JSONResponse(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.opts.Store.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, "get session", err)
		return
	}
	util.JSONResponse(w, http.StatusOK, info)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.opts.Store.Session(r.Context(), id); err != nil {
		s.storeError(w, "get session", err)
		return
	}
	if !s.limiter(id).Allow() {
		w.Header().Set("Retry-After", "1")
		util.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxBatchBytes+1))
	if err != nil {
		util.JSONError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if int64(len(body)) > s.opts.MaxBatchBytes {
		util.JSONError(w, http.StatusRequestEntityTooLarge, "batch too large")
		return
	}
	switch enc := strings.ToLower(r.Header.Get("Content-Encoding")); enc {
	case "", "identity":
	case "zstd":
		if body, err = s.decoder.DecodeAll(body, nil); err != nil {
			util.JSONError(w, http.StatusBadRequest, "invalid zstd body: "+err.Error())
			return
		}
	default:
		util.JSONError(w, http.StatusUnsupportedMediaType, "unsupported content encoding "+enc)
		return
	}

	var batch []types.Event
	if err := json.Unmarshal(body, &batch); err != nil {
		util.JSONError(w, http.StatusBadRequest, "invalid event batch: "+err.Error())
		return
	}
	if err := validateBatch(batch); err != nil {
		util.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.opts.Store.AppendEvents(r.Context(), id, batch)
	if err != nil {
		s.storeError(w, "append events", err)
		return
	}
	s.opts.Logger.Debug("batch stored", "session", id, "events", n)
	util.JSONResponse(w, http.StatusAccepted, types.IngestResult{Accepted: n})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tag := types.Tag(r.URL.Query().Get("tag"))
	if tag != "" && !tag.Valid() {
		util.JSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown tag %q", tag))
		return
	}
	events, err := s.opts.Store.Events(r.Context(), r.PathValue("id"), tag)
	if err != nil {
		s.storeError(w, "read events", err)
		return
	}
	util.JSONResponse(w, http.StatusOK, events)
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		util.JSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.opts.Logger.Error(op, "error", err)
	util.JSONError(w, http.StatusInternalServerError, op+" failed")
}

// limiter returns the per-session ingest limiter.
func (s *Server) limiter(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.Burst)
		s.limiters[id] = l
	}
	return l
}

func validateBatch(batch []types.Event) error {
	for i, ev := range batch {
		switch ev.Kind {
		case types.KindCustom:
			if !ev.Tag.Valid() {
				return fmt.Errorf("event %d: unknown tag %q", i, ev.Tag)
			}
		case types.KindNative:
		default:
			return fmt.Errorf("event %d: unknown kind %q", i, ev.Kind)
		}
		if !json.Valid(ev.Payload) {
			return fmt.Errorf("event %d: payload is not JSON", i)
		}
	}
	return nil
}
