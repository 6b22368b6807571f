package templating

import "path/filepath"

// Module identifies an application module that contributes templates.
type Module struct {
	Name string
	// Root is the module's filesystem root.
	Root string
	// TemplateDir is resolved against Root. Defaults to "templates".
	TemplateDir string
}

// TemplatePath resolves dir against the module root. An empty dir means the
// module's own template directory; absolute paths are returned unchanged.
func (m Module) TemplatePath(dir string) string {
	if dir == "" {
		dir = m.TemplateDir
	}
	if dir == "" {
		dir = "templates"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(m.Root, dir)
}

// HasTemplates is implemented once by an application to expose the template
// manager nested somewhere in its state. Modules receive the application as a
// HasTemplates and never look the manager up any other way.
type HasTemplates interface {
	Templates() *TemplateManager
}

// From returns the application's template manager, or ErrNotWired when the
// application has none.
func From(app HasTemplates) (*TemplateManager, error) {
	if app == nil {
		return nil, ErrNotWired
	}
	tm := app.Templates()
	if tm == nil {
		return nil, ErrNotWired
	}
	return tm, nil
}
