package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// BlogAPI holds the dependencies for the blog API handlers.
type BlogAPI struct {
	blog   *Blog
	logger *slog.Logger
}

// CreatePostRequest is the expected JSON body for creating a post.
type CreatePostRequest struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewBlogAPI creates a new instance of the BlogAPI.
func NewBlogAPI(blog *Blog, logger *slog.Logger) *BlogAPI {
	return &BlogAPI{
		blog:   blog,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/blog endpoints.
func (b *BlogAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/blog/posts", b.handlePosts)
	mux.HandleFunc("/api/blog/posts/", b.handlePostByID)
}

func (b *BlogAPI) handlePosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b.listPosts(w, r)
	case http.MethodPost:
		b.createPost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (b *BlogAPI) listPosts(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeBlogWrite) {
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	posts, err := b.blog.Recent(r.Context(), limit)
	if err != nil {
		b.logger.Error("Failed to list posts", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, posts)
}

func (b *BlogAPI) createPost(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, ScopeBlogWrite) {
		return
	}

	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	post := &Post{Slug: req.Slug, Title: req.Title, Body: req.Body}
	if err := b.blog.Create(r.Context(), post); err != nil {
		if errors.Is(err, errSlugTaken) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, post)
}

func (b *BlogAPI) handlePostByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r.URL.Path, "/api/blog/posts/")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid post ID format in URL")
		return
	}
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed for this post resource")
		return
	}
	if !requireScope(w, r, ScopeBlogWrite) {
		return
	}

	if err = b.blog.Delete(r.Context(), id); err != nil {
		if errors.Is(err, errPostNotFound) {
			respondWithError(w, http.StatusNotFound, "Post not found")
			return
		}
		b.logger.Error("Failed to delete post", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
