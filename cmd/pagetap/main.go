// main.go — Entry point for the pagetap CLI.
// Drives a headless page through the capture layer, runs the collector, and
// converts exports.
//
// Exit codes:
//
//	0 = success
//	1 = runtime error
//	2 = usage error (missing args, invalid flags, bad config)
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/dev-console/pagetap/internal/config"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

const usageText = `pagetap — client-side telemetry capture

Usage:
  pagetap <command> [args] [--flags]

Commands:
  fetch <url>          Load a URL through an instrumented page and export the session
  collect              Run the collector service
  query [session-id]   List collector sessions, or print one session's events
  har <export-file>    Convert a session export into a HAR 1.2 document

Common Flags:
  --config <path>      Config file (default: ./.pagetap.yaml when present)
  --log-level <level>  debug, info, warn or error
  --version            Show version
  --help               Show this help

Examples:
  pagetap fetch https://example.com/api --method POST --data '{"a":1}' --har out.har
  pagetap collect --addr 127.0.0.1:7341
  pagetap query 3f0c9a7e --collector-url http://127.0.0.1:7341 --tag network
  pagetap har ~/.local/state/pagetap/exports/pagetap-session-20261018T101500.000Z.json
`

// errUsage marks failures that should exit with status 2.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the main entry point, separated for testability.
// Returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	switch args[0] {
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "pagetap %s\n", version)
		return 0
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usageText)
		return 0
	}

	var cmd func(*cli, []string) error
	switch args[0] {
	case "fetch":
		cmd = runFetch
	case "collect":
		cmd = runCollect
	case "query":
		cmd = runQuery
	case "har":
		cmd = runHAR
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q. Valid commands: fetch, collect, query, har\n", args[0])
		return 2
	}

	c := &cli{name: args[0], stdout: stdout, stderr: stderr}
	if err := cmd(c, args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) || errors.Is(err, config.ErrInvalidConfig) {
			return 2
		}
		return 1
	}
	return 0
}

// cli carries per-invocation state shared by the commands.
type cli struct {
	name   string
	stdout io.Writer
	stderr io.Writer

	configFile string
	overrides  config.FlagOverrides
	logger     *slog.Logger
}

// flagSet returns a FlagSet pre-loaded with the common flags.
func (c *cli) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("pagetap "+c.name, pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&c.configFile, "config", "", "config file")
	fs.String("log-level", "", "log level")
	return fs
}

// parse parses args and collects the flags the user actually set into the
// config overrides.
func (c *cli) parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	fs.Visit(func(f *pflag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "log-level":
			c.overrides.LogLevel = &v
		case "collector-url":
			c.overrides.CollectorURL = &v
		case "export-dir":
			c.overrides.ExportDir = &v
		case "addr":
			c.overrides.CollectorAddr = &v
		case "db":
			c.overrides.DBPath = &v
		case "max-length":
			if n, err := fs.GetInt(f.Name); err == nil {
				c.overrides.MaxLength = &n
			}
		case "record-canvas":
			if b, err := fs.GetBool(f.Name); err == nil {
				c.overrides.RecordCanvas = &b
			}
		case "compress":
			if b, err := fs.GetBool(f.Name); err == nil {
				c.overrides.ExportCompress = &b
			}
		}
	})
	return nil
}

// load resolves configuration and builds the logger.
func (c *cli) load() (config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.Config{}, fmt.Errorf("cannot determine working directory: %w", err)
	}
	cfg, err := config.Load(cwd, c.configFile, &c.overrides)
	if err != nil {
		return cfg, err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return cfg, err
	}
	c.logger = slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
	return cfg, nil
}
