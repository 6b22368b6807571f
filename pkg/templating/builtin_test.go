package templating

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultSplices(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{
		"sanitize.tpl": `{{ sanitize(body) }}`,
		"repeat.tpl":   `{% for i in repeat(3) %}{{ i }}{% endfor %}`,
		"list.tpl":     `{{ list("a", 2, true)|length }}`,
		"isset.tpl":    `{% if is_set(name) %}set{% else %}unset{% endif %}`,
		"choice.tpl":   `{{ choice(items) }}`,
	}, nil)

	render := func(name string, data map[string]any) string {
		t.Helper()
		var sb strings.Builder
		if err := tm.Execute(t.Context(), &sb, name, data); err != nil {
			t.Fatalf("Execute(%q) failed: %v", name, err)
		}
		return sb.String()
	}

	t.Run("sanitize", func(t *testing.T) {
		out := render("sanitize", map[string]any{"body": `<p>hi</p><script>alert(1)</script>`})
		if out != "<p>hi</p>" {
			t.Errorf("sanitize output %q", out)
		}
	})

	t.Run("repeat", func(t *testing.T) {
		if out := render("repeat", nil); out != "012" {
			t.Errorf("repeat output %q, want 012", out)
		}
	})

	t.Run("list", func(t *testing.T) {
		if out := render("list", nil); out != "3" {
			t.Errorf("list length %q, want 3", out)
		}
	})

	t.Run("choice", func(t *testing.T) {
		items := []string{"a", "b", "c"}
		for i := 0; i < 20; i++ {
			out := render("choice", map[string]any{"items": items})
			if out != "a" && out != "b" && out != "c" {
				t.Fatalf("choice returned %q", out)
			}
		}
		if out := render("choice", map[string]any{"items": []string{}}); out != "" {
			t.Errorf("choice of an empty list = %q", out)
		}
	})

	t.Run("is_set", func(t *testing.T) {
		if out := render("isset", map[string]any{"name": "x"}); out != "set" {
			t.Errorf("is_set(x) = %q", out)
		}
		if out := render("isset", map[string]any{"name": ""}); out != "unset" {
			t.Errorf("is_set(\"\") = %q", out)
		}
		if out := render("isset", nil); out != "unset" {
			t.Errorf("is_set(undefined) = %q", out)
		}
	})
}

func TestDefaultSplices_ArgumentCount(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{
		"bad.tpl": `{{ repeat() }}`,
	}, nil)

	var sb strings.Builder
	err := tm.Execute(t.Context(), &sb, "bad", nil)
	if err == nil {
		t.Fatal("repeat without arguments should fail")
	}
	if !strings.Contains(err.Error(), "expected 1 argument") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestDefaultSplices_RepeatLimit(t *testing.T) {
	tm, _ := setupTestManager(t, map[string]string{
		"huge.tpl":  `{% for i in repeat(1000000000) %}x{% endfor %}`,
		"limit.tpl": `{{ repeat(10000)|length }}`,
	}, nil)

	var sb strings.Builder
	err := tm.Execute(t.Context(), &sb, "huge", nil)
	var serr *SpliceError
	if !errors.As(err, &serr) || serr.Name != "repeat" {
		t.Fatalf("expected a repeat SpliceError, got %v", err)
	}
	if sb.Len() != 0 {
		t.Errorf("nothing should be written for a failed repeat, got %d bytes", sb.Len())
	}

	sb.Reset()
	if err = tm.Execute(t.Context(), &sb, "limit", nil); err != nil {
		t.Fatalf("repeat at the limit failed: %v", err)
	}
	if sb.String() != "10000" {
		t.Errorf("repeat(10000)|length = %q", sb.String())
	}
}
