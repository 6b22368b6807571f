package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/Trellis/pkg/templating"
	"github.com/flosch/pongo2/v6"
	"github.com/google/uuid"
)

// Server is the application. It owns the template manager that the site and
// blog modules share, and the two HTTP handlers built on top of it.
type Server struct {
	config      *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	tm          *templating.TemplateManager
	blog        *Blog
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	blogAPI     *BlogAPI
	serverAPI   *ServerAPI
	siteHandler http.Handler
	apiHandler  http.Handler
}

// Templates implements templating.HasTemplates.
func (s *Server) Templates() *templating.TemplateManager {
	return s.tm
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	site := templating.Module{Name: "site", Root: config.Server.SiteRoot, TemplateDir: "."}
	blogModule := templating.Module{Name: "blog", Root: config.Server.BlogRoot, TemplateDir: "."}
	for _, seed := range []struct {
		dir   string
		files map[string]string
	}{
		{site.TemplatePath(""), siteSeed},
		{blogModule.TemplatePath(""), blogSeed},
	} {
		created, err := seedTemplates(seed.dir, seed.files)
		if err != nil {
			return nil, fmt.Errorf("failed to seed templates: %w", err)
		}
		if created {
			logger.Info("Created default templates", "dir", seed.dir)
		}
	}

	tm, err := templating.NewTemplateManager(logger, config.Templates, site, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}

	server := &Server{
		config: cm,
		db:     db,
		logger: logger,
		tm:     tm,
	}

	if err = tm.AddSplices(siteSplices(config.Server)); err != nil {
		return nil, fmt.Errorf("failed to add site splices: %w", err)
	}

	server.blog, err = NewBlog(server, db, blogModule, logger)
	if err != nil {
		return nil, err
	}

	if len(config.Server.DisabledSplices) > 0 {
		err = tm.Modify(func(s *templating.State) *templating.State {
			return s.WithoutSplices(config.Server.DisabledSplices...)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to disable splices: %w", err)
		}
		logger.Info("Disabled splices", "splices", config.Server.DisabledSplices)
	}
	tm.Seal()

	// api initialization
	server.authAPI = NewAuthAPI(db, logger)
	server.templateAPI = NewTemplateAPI(tm, logger)
	server.blogAPI = NewBlogAPI(server.blog, logger)
	server.serverAPI = NewServerAPI(cm, actionChan, db, logger)

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.blogAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	rootAPI := http.NewServeMux()
	rootAPI.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	rootAPI.Handle("/api/", authedAPI)
	server.apiHandler = server.logRequests(rootAPI)

	siteMux := http.NewServeMux()
	server.blog.RegisterRoutes(siteMux)
	siteMux.HandleFunc("/favicon.ico", handleFavicon)
	siteMux.Handle("/", tm.Handler(nil))
	server.siteHandler = server.logRequests(siteMux)

	return server, nil
}

// siteSplices are the application-wide splices every template can call.
func siteSplices(config *ServerConfig) templating.Splices {
	return templating.Splices{
		"site_name": templating.Const(config.SiteName),
		"now": func(*templating.Call, ...*pongo2.Value) (any, error) {
			return time.Now(), nil
		},
		"request_path": func(c *templating.Call, _ ...*pongo2.Value) (any, error) {
			if c.Request == nil {
				return "", nil
			}
			return c.Request.URL.Path, nil
		},
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// logRequests tags every request with an id and logs it once it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("Request served",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// handleFavicon answers favicon requests with no content so they never reach
// the template tree.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
