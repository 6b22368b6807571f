package templating

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler(t *testing.T) {
	tm, _ := setupTestManager(t, siteTemplates, nil)

	rec := serve(tm.Handler(nil), "/about")
	if rec.Code != http.StatusOK || rec.Body.String() != "about us" {
		t.Errorf("GET /about: %d %q", rec.Code, rec.Body.String())
	}

	if rec = serve(tm.Handler(nil), "/_partials/nav"); rec.Code != http.StatusNotFound {
		t.Errorf("partials must not be served, got %d", rec.Code)
	}

	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	if rec = serve(tm.Handler(fallback), "/missing"); rec.Code != http.StatusTeapot {
		t.Errorf("misses should reach the fallback, got %d", rec.Code)
	}
	if rec = serve(tm.Handler(fallback), "/"); rec.Body.String() != "home" {
		t.Errorf("hits must not reach the fallback, got %q", rec.Body.String())
	}
}

func TestRenderHandler_Missing(t *testing.T) {
	tm, _ := setupTestManager(t, siteTemplates, nil)
	if rec := serve(tm.RenderHandler("missing"), "/"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSingleHandler(t *testing.T) {
	tm, _ := setupTestManager(t, siteTemplates, nil)

	if rec := serve(tm.SingleHandler("about"), "/"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec := serve(tm.SingleHandler("missing"), "/")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("a missing single template is a server error, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Oops") {
		t.Error("no error template is configured, expected the plain 500 body")
	}
}

func TestErrorTemplate(t *testing.T) {
	tm, _ := setupTestManager(t, siteTemplates, &TemplateConfig{ErrorTemplate: "_error"})

	rec := serve(tm.SingleHandler("missing"), "/")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Oops: ") || !strings.Contains(rec.Body.String(), "template not found") {
		t.Errorf("error template not rendered, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != tm.State().ContentType() {
		t.Errorf("error page content type %q", ct)
	}

	// A scoped state can swap the error template for one request.
	h := tm.Local(func(s *State) *State {
		return s.WithErrorTemplate("")
	}, tm.SingleHandler("missing"))
	if rec = serve(h, "/"); strings.Contains(rec.Body.String(), "Oops") {
		t.Errorf("local state should disable the error template, got %q", rec.Body.String())
	}
}

func TestErrorTemplate_IgnoresLocalContentType(t *testing.T) {
	tm, _ := setupTestManager(t, siteTemplates, &TemplateConfig{ErrorTemplate: "_error"})

	h := tm.Local(func(s *State) *State {
		return s.WithContentType("application/atom+xml")
	}, tm.SingleHandler("missing"))
	rec := serve(h, "/feed")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Oops: ") {
		t.Fatalf("error template not rendered, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != tm.State().ContentType() {
		t.Errorf("error page sent as %q, want the shared content type %q", ct, tm.State().ContentType())
	}
}

func TestWithSplices_InvalidIsServerError(t *testing.T) {
	tm, _ := setupTestManager(t, siteTemplates, nil)

	for name, splices := range map[string]Splices{
		"bad name":     {"not-an-ident": Const("x")},
		"nil function": {"name": nil},
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			h := tm.WithSplices(splices, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			rec := serve(h, "/")
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", rec.Code)
			}
			if called {
				t.Error("the wrapped handler ran with invalid splices")
			}
		})
	}
}
