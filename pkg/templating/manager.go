package templating

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// TemplateManager is the central controller for the templating engine.
// It owns the application's single engine State, the mounted template
// directories and the pongo2 template set built from them.
//
// Initialization operations (AddTemplates, AddSplices, Modify) are meant to
// run once at startup and fail with ErrSealed after Seal. Render operations
// may run concurrently from any number of goroutines. Templates using a
// dynamic include ({% include name %} with a variable) load through the
// shared pongo2 set while rendering, which pongo2 does not synchronize; use
// static includes in templates served concurrently.
type TemplateManager struct {
	logger *slog.Logger
	config TemplateConfig
	mounts []Mount
	state  *State
	sealed bool
	mu     sync.RWMutex

	// reloadMu serializes everything that recompiles the template table.
	// It is always taken before mu.
	reloadMu sync.Mutex
}

// NewTemplateManager creates a TemplateManager from the templates found in
// dir, resolved against the module's root (the module's own template
// directory when dir is empty). It fails when the directory is missing or any
// template does not compile.
func NewTemplateManager(logger *slog.Logger, config *TemplateConfig, module Module, dir string) (*TemplateManager, error) {
	return NewTemplateManagerAt(logger, config, module.TemplatePath(dir))
}

// NewTemplateManagerAt is NewTemplateManager with an explicit filesystem path,
// for template roots shared between modules.
func NewTemplateManagerAt(logger *slog.Logger, config *TemplateConfig, dir string) (*TemplateManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := config.normalized()

	tm := &TemplateManager{
		logger: logger,
		config: cfg,
		state: &State{
			splices:       DefaultSplices(),
			contentType:   cfg.DefaultContentType,
			errorTemplate: cleanName(cfg.ErrorTemplate),
		},
	}

	if err := tm.mount("", dir); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "dir", dir, "count", len(tm.state.templates))
	return tm, nil
}

// AddTemplates mounts the module's own template directory under prefix.
func (tm *TemplateManager) AddTemplates(module Module, prefix string) error {
	return tm.AddTemplatesAt(prefix, module.TemplatePath(""))
}

// AddTemplatesAt mounts dir under prefix. Every template is recompiled so
// that includes across mounts resolve; a name that is already registered is
// rejected with ErrDuplicateTemplate unless the duplicate policy is override.
func (tm *TemplateManager) AddTemplatesAt(prefix, dir string) error {
	tm.reloadMu.Lock()
	defer tm.reloadMu.Unlock()
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.sealed {
		return ErrSealed
	}
	return tm.mountLocked(prefix, dir)
}

func (tm *TemplateManager) mount(prefix, dir string) error {
	tm.reloadMu.Lock()
	defer tm.reloadMu.Unlock()
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.mountLocked(prefix, dir)
}

func (tm *TemplateManager) mountLocked(prefix, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("templating: resolve %s: %w", dir, err)
	}
	m := Mount{Prefix: cleanPrefix(prefix), Dir: abs}

	mounts := append(append([]Mount(nil), tm.mounts...), m)
	next, err := tm.compile(mounts, tm.state)
	if err != nil {
		tm.logger.Error("Failed to load templates", "prefix", m.Prefix, "dir", m.Dir, "error", err)
		return err
	}
	tm.mounts = mounts
	tm.state = next
	tm.logger.Info("Loaded template directory", "prefix", m.Prefix, "dir", m.Dir, "count", len(next.templates))
	return nil
}

// compile builds a new State from mounts, carrying over everything but the
// template table from base.
func (tm *TemplateManager) compile(mounts []Mount, base *State) (*State, error) {
	set := newTemplateSet(mounts, tm.config)
	table, err := compileMounts(set, mounts, tm.config, tm.logger)
	if err != nil {
		return nil, err
	}
	next := base.clone()
	next.templates = table
	next.set = set
	next.mounts = mounts
	return next, nil
}

// AddSplices binds splices into the shared state. Binding a name that is
// already bound replaces it.
func (tm *TemplateManager) AddSplices(splices Splices) error {
	if err := validateSplices(splices); err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.sealed {
		return ErrSealed
	}
	for name := range splices {
		if tm.state.HasSplice(name) {
			tm.logger.Warn("Splice rebound", "splice", name)
		}
	}
	tm.state = tm.state.WithSplices(splices)
	tm.logger.Debug("Bound splices", "count", len(splices))
	return nil
}

// Modify replaces the shared state with fn's result. It is the escape hatch
// for engine settings that have no dedicated operation.
func (tm *TemplateManager) Modify(fn func(*State) *State) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.sealed {
		return ErrSealed
	}
	next := fn(tm.state)
	if next == nil || next.set == nil {
		return errors.New("templating: Modify must return a state derived from the current one")
	}
	if err := validateSplices(next.splices); err != nil {
		return err
	}
	tm.state = next
	return nil
}

// Seal ends the initialization phase.
func (tm *TemplateManager) Seal() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.sealed = true
	tm.logger.Info("Template manager sealed", "count", len(tm.state.templates))
}

// Sealed reports whether Seal has been called.
func (tm *TemplateManager) Sealed() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.sealed
}

// State returns the shared state. Use Current to honour scoped bindings.
func (tm *TemplateManager) State() *State {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.state
}

// Mounts returns a copy of the mounted directories in registration order.
func (tm *TemplateManager) Mounts() []Mount {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return append([]Mount(nil), tm.mounts...)
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	cfg := tm.config
	cfg.Extensions = append([]string(nil), tm.config.Extensions...)
	return cfg
}

// ClearCache recompiles every mounted template from disk and publishes the
// result. Renders keep using the previous templates until the swap, and keep
// using them for good if compilation fails.
func (tm *TemplateManager) ClearCache() error {
	tm.reloadMu.Lock()
	defer tm.reloadMu.Unlock()

	tm.mu.RLock()
	mounts := tm.mounts
	base := tm.state
	tm.mu.RUnlock()

	fresh, err := tm.compile(mounts, base)
	if err != nil {
		tm.logger.Error("Failed to reload templates", "error", err)
		return err
	}

	tm.mu.Lock()
	next := tm.state.clone()
	next.templates = fresh.templates
	next.set = fresh.set
	next.mounts = fresh.mounts
	tm.state = next
	tm.mu.Unlock()

	tm.logger.Info("Reloaded templates", "count", len(fresh.templates))
	return nil
}
