package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/CTAG07/Trellis/pkg/templating"
	"github.com/natefinch/atomic"
)

// maxTemplateSize bounds template bodies accepted by the API.
const maxTemplateSize = 1 << 20

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	logger *slog.Logger
}

// TemplateList is the response of GET /api/templates.
type TemplateList struct {
	Templates []string           `json:"templates"`
	Splices   []string           `json:"splices"`
	Mounts    []templating.Mount `json:"mounts"`
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/source/", t.handleSource)
}

// handleRefresh reloads every mounted template from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, ScopeTemplatesWrite) {
		return
	}
	if err := t.tm.ClearCache(); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns the loaded templates, the bound splices and the mounts.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, ScopeTemplatesRead) {
		return
	}
	s := t.tm.State()
	respondWithJSON(w, http.StatusOK, TemplateList{
		Templates: s.Names(),
		Splices:   s.SpliceNames(),
		Mounts:    t.tm.Mounts(),
	})
}

// queryData turns the query string into template data, skipping the given keys.
func queryData(r *http.Request, skip string) map[string]any {
	data := make(map[string]any)
	for key, values := range r.URL.Query() {
		if key == skip || len(values) == 0 {
			continue
		}
		data[key] = values[0]
	}
	return data
}

// handleTest renders the request body as a template string without saving it.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, ScopeTemplatesRead) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateSize))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	var buf bytes.Buffer
	if err = t.tm.ExecuteString(r.Context(), &buf, string(body), queryData(r, "")); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", t.tm.Current(r.Context()).ContentType())
	_, _ = buf.WriteTo(w)
}

// handlePreview renders a loaded template by name, partials included, with
// the remaining query parameters as data.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, ScopeTemplatesRead) {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}

	var buf bytes.Buffer
	if err := t.tm.Execute(r.Context(), &buf, name, queryData(r, "name")); err != nil {
		if errors.Is(err, templating.ErrTemplateNotFound) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}

	w.Header().Set("Content-Type", t.tm.Current(r.Context()).ContentType())
	_, _ = buf.WriteTo(w)
}

// handleSource reads or replaces the file behind a loaded template.
func (t *TemplateAPI) handleSource(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/source/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	path, ok := t.tm.State().Source(name)
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, ScopeTemplatesRead) {
			return
		}
		content, err := os.ReadFile(path)
		if err != nil {
			t.logger.Error("Failed to read template source", "template", name, "path", path, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to read template source")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		if !requireScope(w, r, ScopeTemplatesWrite) {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateSize))
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		previous, err := os.ReadFile(path)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to read template source")
			return
		}
		if err = atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
			return
		}
		if err = t.tm.ClearCache(); err != nil {
			// Put the old file back so the next reload does not fail on it.
			if rerr := atomic.WriteFile(path, bytes.NewReader(previous)); rerr != nil {
				t.logger.Error("Failed to restore template source", "template", name, "error", rerr)
			}
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template rejected: %v", err))
			return
		}
		t.logger.Info("Template updated via API", "template", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
