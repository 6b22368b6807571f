package templating

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTemplates creates files (relative path -> content) below dir.
func writeTemplates(tb testing.TB, dir string, files map[string]string) {
	tb.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			tb.Fatalf("failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			tb.Fatalf("failed to write template %s: %v", name, err)
		}
	}
}

// setupTestManager creates a TemplateManager over a fresh module root whose
// "templates" directory holds files.
func setupTestManager(tb testing.TB, files map[string]string, config *TemplateConfig) (*TemplateManager, Module) {
	tb.Helper()
	mod := Module{Name: "app", Root: tb.TempDir()}
	tmplDir := mod.TemplatePath("")
	if err := os.MkdirAll(tmplDir, 0755); err != nil {
		tb.Fatalf("failed to create templates dir: %v", err)
	}
	writeTemplates(tb, tmplDir, files)

	tm, err := NewTemplateManager(discardLogger(), config, mod, "")
	if err != nil {
		tb.Fatalf("NewTemplateManager failed: %v", err)
	}
	return tm, mod
}

// render runs Render against a GET request for name and returns the recorder.
func render(tb testing.TB, tm *TemplateManager, r *http.Request, name string) (*httptest.ResponseRecorder, bool) {
	tb.Helper()
	if r == nil {
		r = httptest.NewRequest(http.MethodGet, "/", nil)
	}
	rec := httptest.NewRecorder()
	found, err := tm.Render(rec, r, name)
	if err != nil {
		tb.Fatalf("Render(%q) failed: %v", name, err)
	}
	return rec, found
}

func TestNewTemplateManager(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{
		"index.tpl":        "home",
		"about.html":       "about",
		"blog/post.tpl":    "post",
		"_partial.tpl":     "partial",
		"notes.txt":        "not a template",
		"blog/feed.xml.go": "also not a template",
	}, nil)

	want := []string{"_partial", "about", "blog/post", "index"}
	if diff := cmp.Diff(want, tm.State().Names()); diff != "" {
		t.Errorf("loaded templates mismatch (-want +got):\n%s", diff)
	}
	if got := tm.State().ContentType(); got != "text/html; charset=utf-8" {
		t.Errorf("unexpected default content type %q", got)
	}
	if !tm.State().HasSplice("sanitize") {
		t.Error("default splices should be bound on init")
	}
}

func TestNewTemplateManager_MissingDir(t *testing.T) {
	mod := Module{Name: "app", Root: t.TempDir()}
	_, err := NewTemplateManager(discardLogger(), nil, mod, "nope")
	if !errors.Is(err, ErrTemplateDirMissing) {
		t.Fatalf("expected ErrTemplateDirMissing, got %v", err)
	}
}

func TestNewTemplateManagerAt(t *testing.T) {
	dir := t.TempDir()
	writeTemplates(t, dir, map[string]string{"shared/page.tpl": "shared"})

	tm, err := NewTemplateManagerAt(discardLogger(), nil, dir)
	if err != nil {
		t.Fatalf("NewTemplateManagerAt failed: %v", err)
	}
	if !tm.State().Has("shared/page") {
		t.Errorf("expected shared/page, got %v", tm.State().Names())
	}
	if mounts := tm.Mounts(); len(mounts) != 1 || mounts[0].Dir != dir || mounts[0].Prefix != "" {
		t.Errorf("unexpected mounts %+v", mounts)
	}
}

func TestNewTemplateManager_ParseError(t *testing.T) {
	dir := t.TempDir()
	writeTemplates(t, dir, map[string]string{
		"good.tpl":   "fine",
		"broken.tpl": "{% if %}",
	})

	_, err := NewTemplateManagerAt(discardLogger(), nil, dir)
	var tplErr *TemplateError
	if !errors.As(err, &tplErr) {
		t.Fatalf("expected *TemplateError, got %v", err)
	}
	if tplErr.Name != "broken" {
		t.Errorf("error should name the broken template, got %q", tplErr.Name)
	}
}

func TestManager_AddTemplates(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{"index.tpl": "home"}, nil)

	docs := Module{Name: "docs", Root: t.TempDir()}
	writeTemplates(t, docs.TemplatePath(""), map[string]string{
		"index.tpl":       "docs home",
		"guide/intro.tpl": "intro",
	})

	if err := tm.AddTemplates(docs, "/docs/"); err != nil {
		t.Fatalf("AddTemplates failed: %v", err)
	}

	want := []string{"docs/guide/intro", "docs/index", "index"}
	if diff := cmp.Diff(want, tm.State().Names()); diff != "" {
		t.Errorf("templates after AddTemplates mismatch (-want +got):\n%s", diff)
	}
	rec, found := render(t, tm, nil, "docs/index")
	if !found || rec.Body.String() != "docs home" {
		t.Errorf("expected docs home, got found=%v body=%q", found, rec.Body.String())
	}
	if diff := cmp.Diff([]string{"", "docs"}, []string{tm.Mounts()[0].Prefix, tm.Mounts()[1].Prefix}); diff != "" {
		t.Errorf("mount prefixes mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_AddTemplates_Duplicate(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{"index.tpl": "home"}, nil)

	first := Module{Name: "first", Root: t.TempDir()}
	second := Module{Name: "second", Root: t.TempDir()}
	writeTemplates(t, first.TemplatePath(""), map[string]string{"index.tpl": "first"})
	writeTemplates(t, second.TemplatePath(""), map[string]string{"index.tpl": "second"})

	if err := tm.AddTemplates(first, "/docs"); err != nil {
		t.Fatalf("first AddTemplates failed: %v", err)
	}
	err := tm.AddTemplates(second, "/docs")
	if !errors.Is(err, ErrDuplicateTemplate) {
		t.Fatalf("expected ErrDuplicateTemplate, got %v", err)
	}

	// The rejected mount must not have touched the live state.
	if len(tm.Mounts()) != 2 {
		t.Errorf("expected 2 mounts after rejected add, got %d", len(tm.Mounts()))
	}
	rec, _ := render(t, tm, nil, "docs/index")
	if rec.Body.String() != "first" {
		t.Errorf("expected first module's template, got %q", rec.Body.String())
	}
}

func TestManager_AddTemplates_Override(t *testing.T) {
	config := DefaultConfig()
	config.DuplicatePolicy = DuplicateOverride
	tm, _ := setupTestManager(t, map[string]string{"index.tpl": "home"}, config)

	theme := Module{Name: "theme", Root: t.TempDir()}
	writeTemplates(t, theme.TemplatePath(""), map[string]string{"index.tpl": "themed home"})

	if err := tm.AddTemplates(theme, "/"); err != nil {
		t.Fatalf("AddTemplates with override policy failed: %v", err)
	}
	rec, _ := render(t, tm, nil, "index")
	if rec.Body.String() != "themed home" {
		t.Errorf("later mount should win, got %q", rec.Body.String())
	}
}

func TestManager_IncludesAcrossMounts(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{
		"_footer.tpl": "FOOT",
	}, nil)

	docsDir := t.TempDir()
	writeTemplates(t, docsDir, map[string]string{
		"_nav.tpl": "NAV",
		"page.tpl": `{% include "_nav.tpl" %}|{% include "/_footer.tpl" %}`,
	})
	if err := tm.AddTemplatesAt("docs", docsDir); err != nil {
		t.Fatalf("AddTemplatesAt failed: %v", err)
	}

	rec, _ := render(t, tm, nil, "docs/page")
	if rec.Body.String() != "NAV|FOOT" {
		t.Errorf("unexpected include output %q", rec.Body.String())
	}
}

func TestManager_Sealed(t *testing.T) {
	tm, mod := setupTestManager(t, map[string]string{"index.tpl": "home"}, nil)
	tm.Seal()

	if !tm.Sealed() {
		t.Fatal("Sealed should report true after Seal")
	}
	if err := tm.AddSplices(Splices{"x": Const(1)}); !errors.Is(err, ErrSealed) {
		t.Errorf("AddSplices after Seal: expected ErrSealed, got %v", err)
	}
	if err := tm.AddTemplates(mod, "/again"); !errors.Is(err, ErrSealed) {
		t.Errorf("AddTemplates after Seal: expected ErrSealed, got %v", err)
	}
	if err := tm.Modify(func(s *State) *State { return s }); !errors.Is(err, ErrSealed) {
		t.Errorf("Modify after Seal: expected ErrSealed, got %v", err)
	}
	if err := tm.ClearCache(); err != nil {
		t.Errorf("ClearCache must stay available after Seal: %v", err)
	}
}

func TestManager_AddSplices_Invalid(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{"index.tpl": "home"}, nil)

	cases := map[string]Splices{
		"bad name": {"not-valid": Const(1)},
		"nil func": {"empty": nil},
	}
	for name, splices := range cases {
		t.Run(name, func(t *testing.T) {
			if err := tm.AddSplices(splices); !errors.Is(err, ErrInvalidSplice) {
				t.Errorf("expected ErrInvalidSplice, got %v", err)
			}
		})
	}
}

func TestManager_Modify(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{"feed.tpl": "<feed/>"}, nil)

	err := tm.Modify(func(s *State) *State {
		return s.WithContentType("application/atom+xml").WithoutSplices("sanitize")
	})
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if tm.State().HasSplice("sanitize") {
		t.Error("Modify should have unbound sanitize")
	}

	rec, _ := render(t, tm, nil, "feed")
	if ct := rec.Header().Get("Content-Type"); ct != "application/atom+xml" {
		t.Errorf("expected modified content type, got %q", ct)
	}

	if err = tm.Modify(func(*State) *State { return nil }); err == nil {
		t.Error("Modify returning nil should fail")
	}
	if err = tm.Modify(func(*State) *State { return &State{} }); err == nil {
		t.Error("Modify returning an unrelated state should fail")
	}
}

func TestManager_ClearCache(t *testing.T) {
	tm, mod := setupTestManager(t, map[string]string{"page.tpl": "v1"}, nil)
	if err := tm.AddSplices(Splices{"kept": Const("yes")}); err != nil {
		t.Fatalf("AddSplices failed: %v", err)
	}

	writeTemplates(t, mod.TemplatePath(""), map[string]string{
		"page.tpl":  "v2 {{ kept() }}",
		"added.tpl": "new",
	})

	rec, _ := render(t, tm, nil, "page")
	if rec.Body.String() != "v1" {
		t.Errorf("templates must not change before ClearCache, got %q", rec.Body.String())
	}

	if err := tm.ClearCache(); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}

	rec, _ = render(t, tm, nil, "page")
	if rec.Body.String() != "v2 yes" {
		t.Errorf("expected reloaded template with splices kept, got %q", rec.Body.String())
	}
	if !tm.State().Has("added") {
		t.Error("ClearCache should pick up new files")
	}
}

func TestManager_ClearCache_FailureKeepsState(t *testing.T) {
	tm, mod := setupTestManager(t, map[string]string{"page.tpl": "v1"}, nil)

	writeTemplates(t, mod.TemplatePath(""), map[string]string{"page.tpl": "{% for %}"})
	if err := tm.ClearCache(); err == nil {
		t.Fatal("ClearCache should fail on a broken template")
	}

	rec, found := render(t, tm, nil, "page")
	if !found || rec.Body.String() != "v1" {
		t.Errorf("previous template should stay live, got found=%v body=%q", found, rec.Body.String())
	}
}

func TestManager_GetConfig(t *testing.T) {
	config := &TemplateConfig{Extensions: []string{".tmpl.html"}}
	tm, _ := setupTestManager(t, map[string]string{"page.tmpl.html": "x"}, config)

	got := tm.GetConfig()
	if got.DefaultContentType == "" || got.DuplicatePolicy != DuplicateError {
		t.Errorf("defaults should fill zero fields, got %+v", got)
	}
	if diff := cmp.Diff([]string{".tmpl.html"}, got.Extensions); diff != "" {
		t.Errorf("extensions mismatch (-want +got):\n%s", diff)
	}
	if !tm.State().Has("page") {
		t.Error("custom extension should be stripped from the name")
	}
}
