package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// requireScope answers 403 and returns false unless the request holds scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope Scope) bool {
	if hasScope(r, scope) {
		return true
	}
	respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
	return false
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode JSON response", "error", err)
		}
	}
}

// pathID parses the numeric id that follows prefix in path, allowing a trailing slash.
func pathID(path, prefix string) (int, error) {
	return strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/"))
}
