package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2"

	"github.com/vk/bindgraph/internal/ctxlog"
	"github.com/vk/bindgraph/internal/engine"
	"github.com/vk/bindgraph/internal/firstuse"
	"github.com/vk/bindgraph/internal/modhcl"
	"github.com/vk/bindgraph/internal/nodeid"
	"github.com/vk/bindgraph/internal/typerule"
)

// ErrDiagnostics is returned by Run when evaluation finished but produced
// error-severity diagnostics; the CLI maps it to a non-zero exit code.
var ErrDiagnostics = errors.New("evaluation produced error diagnostics")

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
	loader *modhcl.Loader
	rules  typerule.Rules
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func NewApp(outW io.Writer, logW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("logger configured")
	return &App{
		outW:   outW,
		logger: logger,
		cfg:    cfg,
		loader: modhcl.NewLoader(typerule.Standard{}),
		rules:  typerule.Standard{},
	}
}

// Run loads the module, evaluates the requested bindings and prints the
// results. It returns ErrDiagnostics when any binding produced an
// error-severity diagnostic.
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Info("run started", "module", a.cfg.ModulePath, "workers", a.cfg.Workers)

	mod, diags := a.loader.LoadFile(ctx, a.cfg.ModulePath)
	if diags.HasErrors() {
		a.printDiags(diags)
		return fmt.Errorf("module %s failed to load", a.cfg.ModulePath)
	}

	keys, err := a.requestedKeys(mod)
	if err != nil {
		return err
	}

	eng := engine.New(mod.Graph, a.rules,
		firstuse.Resolve(mod.Graph, firstuse.DefaultPolicy()),
		engine.Options{Logger: logger, Filename: mod.Filename})

	results, err := eng.RequestAll(ctx, keys, a.cfg.Workers)
	if err != nil {
		return err
	}

	var all hcl.Diagnostics
	for _, key := range keys {
		r := results[key.String()]
		fmt.Fprintf(a.outW, "%s => %s\n", key, r.Type.FriendlyName())
		all = all.Extend(r.Diags)
	}
	a.printDiags(all)

	m := eng.Metrics()
	logger.Info("run finished",
		"bindings", len(keys),
		"requests", m.Requests,
		"transactions", m.Transactions,
		"recomputations", m.Recomputations,
		"cycles", m.Cycles,
		"speculative_discards", m.SpeculativeDiscards,
		"max_participants", m.MaxParticipants,
	)

	if all.HasErrors() {
		return ErrDiagnostics
	}
	return nil
}

// requestedKeys resolves the -request filters against the module, defaulting
// to every binding in declaration order.
func (a *App) requestedKeys(mod *modhcl.Module) ([]nodeid.Key, error) {
	if len(a.cfg.Requests) == 0 {
		return mod.Keys, nil
	}
	keys := make([]nodeid.Key, 0, len(a.cfg.Requests))
	for _, raw := range a.cfg.Requests {
		key, err := nodeid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid -request value %q: %w", raw, err)
		}
		if _, ok := mod.Graph.NodeByKey(key); !ok {
			return nil, fmt.Errorf("-request names unknown binding %s", key)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (a *App) printDiags(diags hcl.Diagnostics) {
	if len(diags) == 0 {
		return
	}
	wr := hcl.NewDiagnosticTextWriter(a.outW, a.loader.Sources(), 100, false)
	// Best effort; a broken output stream will surface on the next write.
	_ = wr.WriteDiagnostics(diags)
}
