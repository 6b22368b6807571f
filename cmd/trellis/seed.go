package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var siteSeed = map[string]string{
	"_layout.html": `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{% block title %}{{ site_name() }}{% endblock %}</title>
</head>
<body>
  <nav><a href="/">Home</a> <a href="/blog/">Blog</a></nav>
  <main>{% block content %}{% endblock %}</main>
  <footer>{{ site_name() }} &middot; {{ now()|date:"2006" }}</footer>
</body>
</html>
`,
	"index.html": `{% extends "_layout.html" %}
{% block content %}
<h1>Welcome to {{ site_name() }}</h1>
<p>There are {{ blog_count() }} posts on the <a href="/blog/">blog</a>.</p>
{% endblock %}
`,
	"_error.html": `{% extends "_layout.html" %}
{% block title %}Error{% endblock %}
{% block content %}
<h1>Something went wrong</h1>
<p>The page at {{ request_path() }} could not be rendered.</p>
{% endblock %}
`,
}

var blogSeed = map[string]string{
	"index.html": `{% extends "_layout.html" %}
{% block title %}Blog &middot; {{ site_name() }}{% endblock %}
{% block content %}
<h1>Blog</h1>
{% for post in blog_recent(10) %}{% include "_summary.html" %}{% empty %}<p>No posts yet.</p>{% endfor %}
{% endblock %}
`,
	"_summary.html": `<article>
  <h2><a href="/blog/{{ post.Slug }}">{{ post.Title }}</a></h2>
  <time datetime="{{ post.CreatedAt|date:"2006-01-02" }}">{{ post.CreatedAt|date:"January 2, 2006" }}</time>
</article>
`,
	"post.html": `{% extends "_layout.html" %}
{% block title %}{% with p=post() %}{{ p.Title }}{% endwith %}{% endblock %}
{% block content %}
{% with p=post() %}
<article>
  <h1>{{ p.Title }}</h1>
  <time>{{ p.CreatedAt|date:"January 2, 2006" }}</time>
  {{ sanitize(p.Body) }}
</article>
{% endwith %}
{% endblock %}
`,
	"feed.xml.html": `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>{{ site_name() }}</title>
{% for post in blog_recent(20) %}  <entry>
    <title>{{ post.Title }}</title>
    <link href="/blog/{{ post.Slug }}"/>
    <updated>{{ post.CreatedAt|date:"2006-01-02T15:04:05Z07:00" }}</updated>
  </entry>
{% endfor %}</feed>
`,
}

// seedTemplates creates dir with the given files when it does not exist yet.
// An existing directory is left untouched.
func seedTemplates(dir string, files map[string]string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return false, fmt.Errorf("failed to write %s: %w", p, err)
		}
	}
	return true, nil
}
