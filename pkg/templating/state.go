package templating

import (
	"sort"

	"github.com/flosch/pongo2/v6"
)

// State is an immutable snapshot of the engine: the compiled templates, the
// bound splices and the render configuration. The With* methods return
// modified copies and leave the receiver untouched, so a State can be shared
// freely between goroutines.
type State struct {
	templates     map[string]*entry
	set           *pongo2.TemplateSet
	mounts        []Mount
	splices       Splices
	contentType   string
	errorTemplate string
}

func (s *State) clone() *State {
	c := *s
	c.splices = s.splices.clone()
	return &c
}

func (s *State) lookup(name string) (*entry, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.templates[cleanName(name)]
	return e, ok
}

// Has reports whether a template with the given name is loaded.
func (s *State) Has(name string) bool {
	_, ok := s.lookup(name)
	return ok
}

// Names returns the names of all loaded templates, sorted.
func (s *State) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the file a template was loaded from.
func (s *State) Source(name string) (string, bool) {
	e, ok := s.lookup(name)
	if !ok {
		return "", false
	}
	return e.source, true
}

// SpliceNames returns the names of the bound splices, sorted.
func (s *State) SpliceNames() []string {
	names := make([]string, 0, len(s.splices))
	for name := range s.splices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSplice reports whether a splice is bound under name.
func (s *State) HasSplice(name string) bool {
	_, ok := s.splices[name]
	return ok
}

// ContentType is the content type sent by Render.
func (s *State) ContentType() string { return s.contentType }

// ErrorTemplate is the template the handler helpers render on failure.
func (s *State) ErrorTemplate() string { return s.errorTemplate }

// WithSplices returns a copy of s with splices bound on top of the existing
// ones.
func (s *State) WithSplices(splices Splices) *State {
	c := s.clone()
	for name, fn := range splices {
		c.splices[name] = fn
	}
	return c
}

// WithoutSplices returns a copy of s with the named splices unbound.
func (s *State) WithoutSplices(names ...string) *State {
	c := s.clone()
	for _, name := range names {
		delete(c.splices, name)
	}
	return c
}

// WithContentType returns a copy of s that renders with contentType.
func (s *State) WithContentType(contentType string) *State {
	c := s.clone()
	c.contentType = contentType
	return c
}

// WithErrorTemplate returns a copy of s that uses name as its error template.
func (s *State) WithErrorTemplate(name string) *State {
	c := s.clone()
	c.errorTemplate = cleanName(name)
	return c
}
