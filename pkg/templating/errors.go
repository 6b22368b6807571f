package templating

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is returned by the operations that require a template
	// to exist (ServeSingle, Execute).
	ErrTemplateNotFound = errors.New("templating: template not found")

	// ErrDuplicateTemplate is returned when two mounts register the same
	// template name under the default duplicate policy.
	ErrDuplicateTemplate = errors.New("templating: duplicate template")

	// ErrTemplateDirMissing is returned when a template directory does not
	// exist or is not a directory.
	ErrTemplateDirMissing = errors.New("templating: template directory missing")

	// ErrSealed is returned by initialization operations called after Seal.
	ErrSealed = errors.New("templating: manager is sealed")

	// ErrNotWired is returned by From when the application has no manager.
	ErrNotWired = errors.New("templating: application has no template manager")

	// ErrInvalidSplice is returned for splices with an unusable name or a nil
	// function.
	ErrInvalidSplice = errors.New("templating: invalid splice")
)

// TemplateError reports a template that failed to compile.
type TemplateError struct {
	Name string // logical template name
	Path string // file on disk
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("templating: compile %q (%s): %v", e.Name, e.Path, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// SpliceError reports a splice that returned an error while a template was
// being rendered.
type SpliceError struct {
	Name     string
	Template string
	Err      error
}

func (e *SpliceError) Error() string {
	return fmt.Sprintf("templating: splice %q in %q: %v", e.Name, e.Template, e.Err)
}

func (e *SpliceError) Unwrap() error { return e.Err }
