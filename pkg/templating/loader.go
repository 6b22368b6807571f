package templating

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// Mount places a template directory under a logical prefix. A file
// "intro.tpl" in a mount with prefix "docs" becomes the template "docs/intro".
type Mount struct {
	Prefix string `json:"prefix"`
	Dir    string `json:"dir"`
}

// entry is one compiled template.
type entry struct {
	name   string // logical name without extension, e.g. "docs/intro"
	file   string // logical file, e.g. "docs/intro.tpl"
	source string // path on disk
	tpl    *pongo2.Template
}

// cleanPrefix turns "/docs/", "docs" and "docs/" into "docs", and "/" into "".
func cleanPrefix(prefix string) string {
	return strings.Trim(path.Clean("/"+prefix), "/")
}

func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func joinLogical(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

// mountLoader resolves logical template paths onto the mounted directories
// for pongo2. Later mounts take precedence.
type mountLoader struct {
	mounts []Mount
}

var _ pongo2.TemplateLoader = (*mountLoader)(nil)

// Abs resolves includes relative to the including template first, then from
// the root of the logical tree.
func (l *mountLoader) Abs(base, name string) string {
	if strings.HasPrefix(name, "/") {
		return cleanName(name)
	}
	if base != "" {
		rel := cleanName(path.Join(path.Dir(base), name))
		if _, ok := l.resolve(rel); ok {
			return rel
		}
	}
	return cleanName(name)
}

func (l *mountLoader) Get(name string) (io.Reader, error) {
	file, ok := l.resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(content), nil
}

func (l *mountLoader) resolve(name string) (string, bool) {
	name = cleanName(name)
	for i := len(l.mounts) - 1; i >= 0; i-- {
		m := l.mounts[i]
		rest, ok := trimMountPrefix(name, m.Prefix)
		if !ok {
			continue
		}
		file := filepath.Join(m.Dir, filepath.FromSlash(rest))
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			return file, true
		}
	}
	return "", false
}

func trimMountPrefix(name, prefix string) (string, bool) {
	if prefix == "" {
		return name, name != ""
	}
	if strings.HasPrefix(name, prefix+"/") {
		return name[len(prefix)+1:], true
	}
	return "", false
}

// matchExtension returns the longest configured extension that name ends in.
func matchExtension(name string, exts []string) string {
	var best string
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) && len(ext) > len(best) && len(name) > len(ext) {
			best = ext
		}
	}
	return best
}

// scanMount lists the template files of a mount in lexical order.
func scanMount(m Mount, exts []string) ([]*entry, error) {
	info, err := os.Stat(m.Dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrTemplateDirMissing, m.Dir)
	}

	var found []*entry
	err = filepath.WalkDir(m.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := matchExtension(d.Name(), exts)
		if ext == "" {
			return nil
		}
		rel, err := filepath.Rel(m.Dir, p)
		if err != nil {
			return err
		}
		file := joinLogical(m.Prefix, filepath.ToSlash(rel))
		found = append(found, &entry{
			name:   strings.TrimSuffix(file, ext),
			file:   file,
			source: p,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("templating: scan %s: %w", m.Dir, err)
	}
	return found, nil
}

func newTemplateSet(mounts []Mount, cfg TemplateConfig) *pongo2.TemplateSet {
	set := pongo2.NewSet("trellis", &mountLoader{mounts: append([]Mount(nil), mounts...)})
	set.Debug = cfg.Debug
	return set
}

// compileMounts scans every mount in order and compiles the resulting table
// with set. Duplicate names are resolved according to the configured policy.
func compileMounts(set *pongo2.TemplateSet, mounts []Mount, cfg TemplateConfig, logger *slog.Logger) (map[string]*entry, error) {
	table := make(map[string]*entry)
	for _, m := range mounts {
		found, err := scanMount(m, cfg.Extensions)
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			if prev, ok := table[e.name]; ok {
				if cfg.DuplicatePolicy != DuplicateOverride {
					return nil, fmt.Errorf("%w: %q from %s is already registered from %s",
						ErrDuplicateTemplate, e.name, e.source, prev.source)
				}
				logger.Warn("Template overridden by later mount", "template", e.name, "previous", prev.source, "source", e.source)
			}
			table[e.name] = e
		}
	}

	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := table[name]
		tpl, err := set.FromFile(e.file)
		if err != nil {
			return nil, &TemplateError{Name: e.name, Path: e.source, Err: err}
		}
		e.tpl = tpl
	}
	return table, nil
}
