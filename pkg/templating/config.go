package templating

// DuplicatePolicy decides what happens when two mounts provide a template
// with the same logical name.
type DuplicatePolicy string

const (
	// DuplicateError rejects the second registration. This is the default.
	DuplicateError DuplicatePolicy = "error"
	// DuplicateOverride lets the most recently added mount win.
	DuplicateOverride DuplicatePolicy = "override"
)

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// DefaultContentType is sent with every render unless RenderAs overrides it.
	DefaultContentType string `json:"default_content_type" yaml:"default_content_type"`

	// Extensions lists the file suffixes that are loaded as templates.
	// The suffix is stripped to form the template's name.
	Extensions []string `json:"extensions" yaml:"extensions"`

	// ErrorTemplate, when set, names a template rendered by the handler helpers
	// whenever a render fails. It is rendered with an "error" splice bound.
	ErrorTemplate string `json:"error_template" yaml:"error_template"`

	// DuplicatePolicy controls duplicate template names across mounts.
	DuplicatePolicy DuplicatePolicy `json:"duplicate_policy" yaml:"duplicate_policy"`

	// Watch enables reloading templates when files change on disk.
	// Meant for development only.
	Watch bool `json:"watch" yaml:"watch"`

	// Debug puts pongo2 into debug mode, which disables its internal cache.
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		DefaultContentType: "text/html; charset=utf-8",
		Extensions:         []string{".tpl", ".html"},
		DuplicatePolicy:    DuplicateError,
	}
}

// normalized fills in defaults for zero fields without modifying c.
func (c *TemplateConfig) normalized() TemplateConfig {
	out := *DefaultConfig()
	if c == nil {
		return out
	}
	if c.DefaultContentType != "" {
		out.DefaultContentType = c.DefaultContentType
	}
	if len(c.Extensions) > 0 {
		out.Extensions = append([]string(nil), c.Extensions...)
	}
	if c.DuplicatePolicy != "" {
		out.DuplicatePolicy = c.DuplicatePolicy
	}
	out.ErrorTemplate = c.ErrorTemplate
	out.Watch = c.Watch
	out.Debug = c.Debug
	return out
}
