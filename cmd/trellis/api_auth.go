package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL
);
`

// Scope names one permission an API key can carry.
type Scope string

const (
	ScopeAll            Scope = "*"
	ScopeTemplatesRead  Scope = "templates:read"
	ScopeTemplatesWrite Scope = "templates:write"
	ScopeBlogWrite      Scope = "blog:write"
	ScopeAuthManage     Scope = "auth:manage"
	ScopeServerConfig   Scope = "server:config"
	ScopeServerControl  Scope = "server:control"
)

var knownScopes = []Scope{
	ScopeAll,
	ScopeTemplatesRead,
	ScopeTemplatesWrite,
	ScopeBlogWrite,
	ScopeAuthManage,
	ScopeServerConfig,
	ScopeServerControl,
}

// masterKeyID is the first key ever created. It always holds ScopeAll and
// cannot be deleted, so the API can never lock its owner out.
const masterKeyID = 1

// authHeader carries the raw API key.
const authHeader = "trellis-auth"

var (
	errKeyNotFound  = errors.New("key not found")
	errMasterKey    = errors.New("the master key cannot be deleted")
	errUnknownScope = errors.New("unknown scope")
)

// parseScopes validates names against the known scopes, dropping duplicates.
// The result is sorted.
func parseScopes(names []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(names))
	for _, name := range names {
		s := Scope(name)
		if !slices.Contains(knownScopes, s) {
			return nil, fmt.Errorf("%w %q", errUnknownScope, name)
		}
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	slices.Sort(scopes)
	return scopes, nil
}

func joinScopes(scopes []Scope) string {
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}
	return strings.Join(names, " ")
}

func splitScopes(stored string) []Scope {
	var scopes []Scope
	for _, name := range strings.Fields(stored) {
		scopes = append(scopes, Scope(name))
	}
	return scopes
}

type contextKey string

const contextKeyPermissions = contextKey("permissions")

// Permissions holds the scopes granted to a request.
type Permissions struct {
	scopes map[Scope]struct{}
}

func newPermissions(scopes ...Scope) *Permissions {
	p := &Permissions{scopes: make(map[Scope]struct{}, len(scopes))}
	for _, s := range scopes {
		p.scopes[s] = struct{}{}
	}
	return p
}

// Has reports whether scope is granted, directly or through ScopeAll.
func (p *Permissions) Has(scope Scope) bool {
	if p == nil {
		return false
	}
	if _, ok := p.scopes[ScopeAll]; ok {
		return true
	}
	_, ok := p.scopes[scope]
	return ok
}

// Scopes returns the granted scopes, sorted.
func (p *Permissions) Scopes() []Scope {
	scopes := make([]Scope, 0, len(p.scopes))
	for s := range p.scopes {
		scopes = append(scopes, s)
	}
	slices.Sort(scopes)
	return scopes
}

// hasScope checks the permissions Authenticate attached to the request.
func hasScope(r *http.Request, scope Scope) bool {
	perms, _ := r.Context().Value(contextKeyPermissions).(*Permissions)
	return perms.Has(scope)
}

// APIKeyInfo is the structure returned when listing keys.
type APIKeyInfo struct {
	ID          int     `json:"id"`
	Scopes      []Scope `json:"scopes"`
	Description string  `json:"description"`
}

// keyStore keeps hashed API keys in the api_keys table.
type keyStore struct {
	db *sql.DB
}

func setupAuthSchema(db *sql.DB) error {
	if _, err := db.Exec(authSchema); err != nil {
		return err
	}
	return nil
}

func (k *keyStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := k.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return n, nil
}

// Lookup returns the scopes of the key whose raw value is rawKey.
func (k *keyStore) Lookup(ctx context.Context, rawKey string) ([]Scope, error) {
	var stored string
	err := k.db.QueryRowContext(ctx, `SELECT scopes FROM api_keys WHERE key_hash = ?`, hashAPIKey(rawKey)).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key: %w", err)
	}
	return splitScopes(stored), nil
}

func (k *keyStore) List(ctx context.Context) ([]APIKeyInfo, error) {
	rows, err := k.db.QueryContext(ctx, `SELECT id, description, scopes FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKeyInfo{}
	for rows.Next() {
		var key APIKeyInfo
		var stored string
		if err = rows.Scan(&key.ID, &key.Description, &stored); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		key.Scopes = splitScopes(stored)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Create stores a new key and returns its id and raw value. The raw value
// is never stored and cannot be recovered later.
func (k *keyStore) Create(ctx context.Context, description string, scopes []Scope) (int, string, error) {
	rawKey, err := generateAPIKey()
	if err != nil {
		return 0, "", err
	}
	var id int
	err = k.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING id`,
		hashAPIKey(rawKey), description, joinScopes(scopes)).Scan(&id)
	if err != nil {
		return 0, "", fmt.Errorf("failed to insert key: %w", err)
	}
	return id, rawKey, nil
}

func (k *keyStore) Delete(ctx context.Context, id int) error {
	if id == masterKeyID {
		return errMasterKey
	}
	res, err := k.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errKeyNotFound
	}
	return nil
}

func generateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "trellis_" + hex.EncodeToString(raw), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// AuthAPI holds the dependencies for the authentication API handlers.
type AuthAPI struct {
	keys   *keyStore
	logger *slog.Logger
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key.
type CreateKeyResponse struct {
	ID     int     `json:"id"`
	RawKey string  `json:"raw_key"`
	Scopes []Scope `json:"scopes"`
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		keys:   &keyStore{db: db},
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// Authenticate attaches the permissions of the key in the trellis-auth
// header to the request. While no keys exist the API is open and every
// request is treated as holding ScopeAll.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := a.keys.Count(r.Context())
		if err != nil {
			a.logger.Error("Authenticate failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		perms := newPermissions(ScopeAll)
		if n > 0 {
			rawKey := r.Header.Get(authHeader)
			if rawKey == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			scopes, err := a.keys.Lookup(r.Context(), rawKey)
			if errors.Is(err, errKeyNotFound) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if err != nil {
				a.logger.Error("Authenticate failed", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			perms = newPermissions(scopes...)
		}

		ctx := context.WithValue(r.Context(), contextKeyPermissions, perms)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"scopes": perms.Scopes()})
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listKeys(w, r)
	case http.MethodPost:
		a.createKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeAuthManage) {
		return
	}
	keys, err := a.keys.List(r.Context())
	if err != nil {
		a.logger.Error("Failed to list API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

// createKey mints a key. The first key always gets ScopeAll whatever was
// asked for; later keys need auth:manage and may only carry scopes the
// caller holds itself.
func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	n, err := a.keys.Count(r.Context())
	if err != nil {
		a.logger.Error("Failed to create API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	if n > 0 && !requireScope(w, r, ScopeAuthManage) {
		return
	}

	var req CreateKeyRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	scopes, err := parseScopes(req.Scopes)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if n == 0 {
		scopes = []Scope{ScopeAll}
	} else {
		if len(scopes) == 0 {
			respondWithError(w, http.StatusBadRequest, "At least one scope is required")
			return
		}
		for _, s := range scopes {
			if !requireScope(w, r, s) {
				return
			}
		}
	}

	id, rawKey, err := a.keys.Create(r.Context(), req.Description, scopes)
	if err != nil {
		a.logger.Error("Failed to create API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}
	a.logger.Info("API key created", "id", id, "scopes", scopes)
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{ID: id, RawKey: rawKey, Scopes: scopes})
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r.URL.Path, "/api/auth/keys/")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed for this key resource")
		return
	}
	if !requireScope(w, r, ScopeAuthManage) {
		return
	}

	if err = a.keys.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, errMasterKey):
			respondWithError(w, http.StatusBadRequest, "Cannot delete the primary master key (ID 1)")
		case errors.Is(err, errKeyNotFound):
			respondWithError(w, http.StatusNotFound, "Key not found")
		default:
			a.logger.Error("Failed to delete API key", "id", id, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
