package templating

import (
	"bytes"
	"net/http"
)

// Handler serves the template tree directory-style. Requests that match no
// template go to fallback, or get a 404 when fallback is nil.
func (tm *TemplateManager) Handler(fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		found, err := tm.Serve(w, r)
		if err != nil {
			tm.renderError(w, r, err)
			return
		}
		if found {
			return
		}
		if fallback != nil {
			fallback.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// RenderHandler renders one template, answering 404 when it is missing.
func (tm *TemplateManager) RenderHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		found, err := tm.Render(w, r, name)
		if err != nil {
			tm.renderError(w, r, err)
			return
		}
		if !found {
			http.NotFound(w, r)
		}
	})
}

// SingleHandler renders one template that must exist; a missing template is
// a server error.
func (tm *TemplateManager) SingleHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := tm.ServeSingle(w, r, name); err != nil {
			tm.renderError(w, r, err)
		}
	})
}

// renderError answers with the state's error template when one is set and
// renders cleanly, and with a plain 500 otherwise.
func (tm *TemplateManager) renderError(w http.ResponseWriter, r *http.Request, err error) {
	tm.logger.Error("Failed to render template", "path", r.URL.Path, "error", err)

	s := tm.Current(r.Context())
	if e, ok := s.lookup(s.errorTemplate); ok {
		es := s.WithSplices(Splices{"error": Const(err.Error())})
		var buf bytes.Buffer
		rerr := tm.execute(r.Context(), r, es, &buf, e, nil)
		if rerr == nil {
			// The error page is not the page that failed, so a scoped
			// content type such as a feed's does not apply to it.
			w.Header().Set("Content-Type", tm.State().ContentType())
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = buf.WriteTo(w)
			return
		}
		tm.logger.Error("Failed to render error template", "template", s.errorTemplate, "error", rerr)
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
