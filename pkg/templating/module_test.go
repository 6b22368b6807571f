package templating

import (
	"errors"
	"path/filepath"
	"testing"
)

type testApp struct {
	tm *TemplateManager
}

func (a *testApp) Templates() *TemplateManager { return a.tm }

func TestFrom(t *testing.T) {
	if _, err := From(nil); !errors.Is(err, ErrNotWired) {
		t.Errorf("From(nil): expected ErrNotWired, got %v", err)
	}
	if _, err := From(&testApp{}); !errors.Is(err, ErrNotWired) {
		t.Errorf("From(unwired app): expected ErrNotWired, got %v", err)
	}

	tm, _ := setupTestManager(t, map[string]string{"index.tpl": "x"}, nil)
	got, err := From(&testApp{tm: tm})
	if err != nil || got != tm {
		t.Errorf("From returned (%p, %v), want (%p, nil)", got, err, tm)
	}
}

func TestModule_TemplatePath(t *testing.T) {
	root := filepath.Join("srv", "blog")
	abs, _ := filepath.Abs(filepath.Join("elsewhere", "tpl"))

	cases := []struct {
		module Module
		dir    string
		want   string
	}{
		{Module{Root: root}, "", filepath.Join(root, "templates")},
		{Module{Root: root, TemplateDir: "views"}, "", filepath.Join(root, "views")},
		{Module{Root: root, TemplateDir: "views"}, "partials", filepath.Join(root, "partials")},
		{Module{Root: root}, abs, abs},
	}
	for _, tc := range cases {
		if got := tc.module.TemplatePath(tc.dir); got != tc.want {
			t.Errorf("%+v.TemplatePath(%q) = %q, want %q", tc.module, tc.dir, got, tc.want)
		}
	}
}
