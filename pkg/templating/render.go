package templating

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/flosch/pongo2/v6"
)

type stateKey struct{ tm *TemplateManager }

// Current returns the state in effect for ctx: the state installed by an
// enclosing Scoped, Local or WithSplices, or the shared state otherwise.
func (tm *TemplateManager) Current(ctx context.Context) *State {
	if ctx != nil {
		if s, ok := ctx.Value(stateKey{tm}).(*State); ok && s != nil {
			return s
		}
	}
	return tm.State()
}

func (tm *TemplateManager) execute(ctx context.Context, r *http.Request, s *State, w io.Writer, e *entry, data map[string]any) error {
	call := &Call{Context: ctx, Request: r, Template: e.name, State: s, Data: data}

	pctx := make(pongo2.Context, len(s.splices)+len(data))
	var failed spliceFailure
	bindSplices(pctx, s.splices, call, &failed)
	for k, v := range data {
		pctx[k] = v
	}

	if err := e.tpl.ExecuteWriter(pctx, w); err != nil {
		if failed.err != nil {
			return &SpliceError{Name: failed.name, Template: e.name, Err: failed.err}
		}
		return fmt.Errorf("templating: render %q: %w", e.name, err)
	}
	return nil
}

// Execute renders the named template to w with data added to the template
// context. Unlike Render, a missing template is an error.
func (tm *TemplateManager) Execute(ctx context.Context, w io.Writer, name string, data map[string]any) error {
	s := tm.Current(ctx)
	e, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return tm.execute(ctx, nil, s, w, e, data)
}

// ExecuteString parses and executes a raw template string against the
// current state. Includes resolve against the mounted directories. Each call
// parses with its own template set, since pongo2 sets are not safe for
// concurrent parsing.
func (tm *TemplateManager) ExecuteString(ctx context.Context, w io.Writer, content string, data map[string]any) error {
	s := tm.Current(ctx)
	tpl, err := newTemplateSet(s.mounts, tm.config).FromString(content)
	if err != nil {
		return fmt.Errorf("templating: parse template string: %w", err)
	}
	return tm.execute(ctx, nil, s, w, &entry{name: "<string>", tpl: tpl}, data)
}

// writeTemplate renders into a buffer first so nothing reaches w when the
// render fails. The bool reports whether the template exists.
func (tm *TemplateManager) writeTemplate(w http.ResponseWriter, r *http.Request, s *State, contentType, name string) (bool, error) {
	e, ok := s.lookup(name)
	if !ok {
		return false, nil
	}
	var buf bytes.Buffer
	if err := tm.execute(r.Context(), r, s, &buf, e, nil); err != nil {
		return true, err
	}
	w.Header().Set("Content-Type", contentType)
	_, err := buf.WriteTo(w)
	return true, err
}

// Render renders the named template with the state's default content type.
// A missing template is not an error: Render returns false and writes
// nothing, leaving the caller free to fall through to another handler.
//
// A dynamic include resolves its target through the state's pongo2 set at
// render time, and pongo2 writes unsynchronized fields of the set when it
// does. Concurrent renders are only race-free for templates whose includes
// are static.
func (tm *TemplateManager) Render(w http.ResponseWriter, r *http.Request, name string) (bool, error) {
	s := tm.Current(r.Context())
	return tm.writeTemplate(w, r, s, s.contentType, name)
}

// RenderAs is Render with contentType in place of the default.
func (tm *TemplateManager) RenderAs(w http.ResponseWriter, r *http.Request, contentType, name string) (bool, error) {
	return tm.writeTemplate(w, r, tm.Current(r.Context()), contentType, name)
}

// RenderWithSplices renders the named template with splices bound for this
// render only. Invalid splice names or nil functions fail with
// ErrInvalidSplice before anything is rendered.
func (tm *TemplateManager) RenderWithSplices(w http.ResponseWriter, r *http.Request, name string, splices Splices) (bool, error) {
	if err := validateSplices(splices); err != nil {
		return false, err
	}
	s := tm.Current(r.Context()).WithSplices(splices)
	return tm.writeTemplate(w, r, s, s.contentType, name)
}

// Serve renders the template named by the request path, the way a file server
// maps paths to files. "/" and paths ending in "/" map to "index". Paths with
// ".." segments and templates whose path has a segment starting with "_"
// (partials) are never served.
func (tm *TemplateManager) Serve(w http.ResponseWriter, r *http.Request) (bool, error) {
	name, ok := templateNameFromPath(r.URL.Path)
	if !ok {
		return false, nil
	}
	return tm.Render(w, r, name)
}

// ServeSingle renders a template the caller expects to exist. A missing
// template is reported as an error wrapping ErrTemplateNotFound.
func (tm *TemplateManager) ServeSingle(w http.ResponseWriter, r *http.Request, name string) error {
	found, err := tm.Render(w, r, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return nil
}

func templateNameFromPath(p string) (string, bool) {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	name := cleanName(p)
	if name == "" || strings.HasSuffix(p, "/") {
		name = path.Join(name, "index")
	}
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, "_") {
			return "", false
		}
	}
	return name, true
}

// Scoped runs inner with a context whose state is fn applied to the current
// one. The outer state is never modified, so nothing needs restoring when
// inner returns, fails or panics. A derived state with invalid splices is
// rejected with ErrInvalidSplice and inner never runs.
func (tm *TemplateManager) Scoped(ctx context.Context, fn func(*State) *State, inner func(context.Context) error) error {
	next := fn(tm.Current(ctx))
	if next == nil {
		return errors.New("templating: scoped transform returned nil state")
	}
	if err := validateSplices(next.splices); err != nil {
		return err
	}
	return inner(context.WithValue(ctx, stateKey{tm}, next))
}

// Local runs next with the request's state replaced by fn applied to it.
func (tm *TemplateManager) Local(fn func(*State) *State, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := tm.Scoped(r.Context(), fn, func(ctx context.Context) error {
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
		if err != nil {
			tm.logger.Error("Failed to derive local template state", "path", r.URL.Path, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})
}

// WithSplices runs next with splices bound for the duration of its request.
func (tm *TemplateManager) WithSplices(splices Splices, next http.Handler) http.Handler {
	return tm.Local(func(s *State) *State { return s.WithSplices(splices) }, next)
}
