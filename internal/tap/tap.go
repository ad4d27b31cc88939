// Package tap installs every interceptor on a page and returns the session
// control surface.
package tap

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dev-console/pagetap/internal/activation"
	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/console"
	"github.com/dev-console/pagetap/internal/host"
	"github.com/dev-console/pagetap/internal/navigation"
	"github.com/dev-console/pagetap/internal/network"
	"github.com/dev-console/pagetap/internal/substrate"
	"github.com/dev-console/pagetap/internal/telemetry"
	"github.com/dev-console/pagetap/internal/types"
)

var (
	// ErrNoSubstrate aborts installation before anything is wrapped.
	ErrNoSubstrate = errors.New("pagetap: recording substrate unavailable")
	// ErrNotActivated means the page did not opt in; nothing was wrapped.
	ErrNotActivated = errors.New("pagetap: capture not activated for this page")
)

// Options configures Install.
type Options struct {
	// Policy overrides activation. When nil the policy is resolved from the
	// window's query and Store.
	Policy *activation.Policy
	Store  activation.FlagStore

	MaxLength    int
	RecordCanvas bool
	// ForwardCustom also sends custom events into the substrate's stream.
	ForwardCustom bool

	Now     func() time.Time
	NewID   func() string
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Install wraps the page's console, error signals, fetch transport, XHR
// factory and history, starts the substrate, and returns the controller.
// Either everything is installed or nothing is.
func Install(win *host.Window, sub substrate.Substrate, opts Options) (*capture.Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sub == nil {
		logger.Error("pagetap disabled", "error", ErrNoSubstrate)
		return nil, ErrNoSubstrate
	}
	if win == nil {
		return nil, errors.New("pagetap: nil window")
	}

	policy, err := resolvePolicy(win, opts)
	if err != nil {
		logger.Warn("activation store", "error", err)
	}
	if !policy.Enabled {
		return nil, ErrNotActivated
	}

	var forward capture.CustomChannel
	if opts.ForwardCustom {
		forward = sub
	}
	ctx := capture.NewContext(capture.Options{
		MaxLength: opts.MaxLength,
		Forward:   forward,
		Now:       opts.Now,
		NewID:     opts.NewID,
		Logger:    logger,
		Metrics:   opts.Metrics,
	})

	stop, err := sub.Record(substrate.RecordOptions{
		Emit:         func(ev types.Event) { ctx.EmitNative(ev) },
		RecordCanvas: opts.RecordCanvas,
	})
	if err != nil {
		return nil, fmt.Errorf("pagetap: start recording: %w", err)
	}

	console.Install(ctx, win.Console, win.Events, win.Href)
	network.Install(ctx, win)
	navigation.Install(ctx, win)

	ctrl := capture.NewController(ctx)
	ctrl.SetStopHandle(stop)
	logger.Info("pagetap installed", "source", policy.Source, "record_canvas", opts.RecordCanvas, "href", win.Href())
	return ctrl, nil
}

func resolvePolicy(win *host.Window, opts Options) (activation.Policy, error) {
	if opts.Policy != nil {
		return *opts.Policy, nil
	}
	return activation.Resolve(win.Query(), opts.Store)
}
