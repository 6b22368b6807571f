package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/CTAG07/Trellis/pkg/templating"
	"github.com/flosch/pongo2/v6"
)

const blogSchema = `
CREATE TABLE IF NOT EXISTS posts (
    id          INTEGER   PRIMARY KEY,
    slug        TEXT      NOT NULL UNIQUE,
    title       TEXT      NOT NULL,
    body        TEXT      NOT NULL,
    created_at  INTEGER   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at);
`

const (
	blogPrefix       = "blog"
	defaultRecentMax = 5
)

var (
	errPostNotFound = errors.New("post not found")
	errSlugTaken    = errors.New("slug already in use")
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// Post is a single blog entry.
type Post struct {
	ID        int       `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Blog is the blog module. Its templates are mounted under /blog and its
// splices read posts through its own database handle.
type Blog struct {
	db     *sql.DB
	tm     *templating.TemplateManager
	module templating.Module
	logger *slog.Logger
}

func setupBlogSchema(db *sql.DB) error {
	if _, err := db.Exec(blogSchema); err != nil {
		return err
	}
	return nil
}

// NewBlog mounts the blog's templates into the application's template manager
// and binds the blog splices.
func NewBlog(app templating.HasTemplates, db *sql.DB, module templating.Module, logger *slog.Logger) (*Blog, error) {
	tm, err := templating.From(app)
	if err != nil {
		return nil, err
	}
	b := &Blog{db: db, tm: tm, module: module, logger: logger}

	if err = tm.AddTemplates(module, "/"+blogPrefix); err != nil {
		return nil, fmt.Errorf("failed to add blog templates: %w", err)
	}
	err = tm.AddSplices(templating.ModuleSplices(b, map[string]templating.ModuleSplice[*Blog]{
		"blog_recent": (*Blog).spliceRecent,
		"blog_count":  (*Blog).spliceCount,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to add blog splices: %w", err)
	}
	return b, nil
}

// RegisterRoutes adds the blog's routes to the site mux. The index at /blog/
// is served directory-style by the site handler.
func (b *Blog) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /blog/feed.xml", b.tm.Local(func(s *templating.State) *templating.State {
		return s.WithContentType("application/atom+xml; charset=utf-8")
	}, b.tm.SingleHandler(blogPrefix+"/feed.xml")))
	mux.HandleFunc("GET /blog/{slug}", b.handlePost)
}

func (b *Blog) handlePost(w http.ResponseWriter, r *http.Request) {
	post, err := b.PostBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		if errors.Is(err, errPostNotFound) {
			http.NotFound(w, r)
			return
		}
		b.logger.Error("Failed to load post", "slug", r.PathValue("slug"), "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	found, err := b.tm.RenderWithSplices(w, r, blogPrefix+"/post", templating.Splices{
		"post": templating.Const(post),
	})
	if err == nil && !found {
		err = fmt.Errorf("%w: %s/post", templating.ErrTemplateNotFound, blogPrefix)
	}
	if err != nil {
		b.logger.Error("Failed to render post", "slug", post.Slug, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// Recent returns up to limit posts, newest first.
func (b *Blog) Recent(ctx context.Context, limit int) ([]Post, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, slug, title, body, created_at FROM posts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// PostBySlug returns the post with the given slug, or errPostNotFound.
func (b *Blog) PostBySlug(ctx context.Context, slug string) (*Post, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, slug, title, body, created_at FROM posts WHERE slug = ?`, slug)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errPostNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Count returns the number of stored posts.
func (b *Blog) Count(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

// Create stores p and fills in its ID and creation time.
func (b *Blog) Create(ctx context.Context, p *Post) error {
	if !slugPattern.MatchString(p.Slug) {
		return fmt.Errorf("invalid slug %q", p.Slug)
	}
	if p.Title == "" {
		return errors.New("title is required")
	}
	if _, err := b.PostBySlug(ctx, p.Slug); err == nil {
		return errSlugTaken
	} else if !errors.Is(err, errPostNotFound) {
		return err
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Second)
	err := b.db.QueryRowContext(ctx,
		`INSERT INTO posts (slug, title, body, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		p.Slug, p.Title, p.Body, p.CreatedAt.Unix()).Scan(&p.ID)
	if isUniqueViolation(err) {
		// Lost a race with another create between the lookup and the insert.
		return errSlugTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	b.logger.Info("Post created", "id", p.ID, "slug", p.Slug)
	return nil
}

// Delete removes the post with the given id.
func (b *Blog) Delete(ctx context.Context, id int) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errPostNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var p Post
	var created int64
	if err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.Body, &created); err != nil {
		return Post{}, err
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	return p, nil
}

// spliceRecent is blog_recent([limit]).
func (b *Blog) spliceRecent(c *templating.Call, args ...*pongo2.Value) (any, error) {
	limit := defaultRecentMax
	if len(args) > 0 {
		limit = args[0].Integer()
	}
	if limit <= 0 {
		return []Post{}, nil
	}
	return b.Recent(c.Context, limit)
}

// spliceCount is blog_count().
func (b *Blog) spliceCount(c *templating.Call, _ ...*pongo2.Value) (any, error) {
	return b.Count(c.Context)
}
