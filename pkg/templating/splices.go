package templating

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/flosch/pongo2/v6"
)

// HTML marks splice output that must not be escaped.
type HTML string

// Call describes the render a splice is being invoked from.
type Call struct {
	Context context.Context
	// Request is nil when rendering outside of an HTTP handler.
	Request  *http.Request
	Template string
	State    *State
	Data     map[string]any
}

// Splice is a named template extension, called from a template as
// {{ name(arg1, arg2) }}. A returned HTML value is emitted unescaped.
type Splice func(c *Call, args ...*pongo2.Value) (any, error)

// Splices maps template-visible names to splices.
type Splices map[string]Splice

func (s Splices) clone() Splices {
	out := make(Splices, len(s))
	for name, fn := range s {
		out[name] = fn
	}
	return out
}

// ModuleSplice is a splice that also receives the module it belongs to.
type ModuleSplice[M any] func(m M, c *Call, args ...*pongo2.Value) (any, error)

// ModuleSplices binds module-level splice functions to module, so they run
// with the module's own capabilities rather than only the application's.
func ModuleSplices[M any](module M, fns map[string]ModuleSplice[M]) Splices {
	out := make(Splices, len(fns))
	for name, fn := range fns {
		if fn == nil {
			out[name] = nil
			continue
		}
		out[name] = func(c *Call, args ...*pongo2.Value) (any, error) {
			return fn(module, c, args...)
		}
	}
	return out
}

// Const returns a splice that always yields v.
func Const(v any) Splice {
	return func(*Call, ...*pongo2.Value) (any, error) {
		return v, nil
	}
}

var spliceName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateSplices(splices Splices) error {
	for name, fn := range splices {
		if !spliceName.MatchString(name) {
			return fmt.Errorf("%w: name %q is not a template identifier", ErrInvalidSplice, name)
		}
		if fn == nil {
			return fmt.Errorf("%w: %q has no function", ErrInvalidSplice, name)
		}
	}
	return nil
}

// spliceFailure keeps the first splice error of a render. pongo2 flattens
// errors raised by functions into strings, so the original is recovered here.
type spliceFailure struct {
	name string
	err  error
}

func bindSplices(ctx pongo2.Context, splices Splices, call *Call, failed *spliceFailure) {
	for name, fn := range splices {
		if fn == nil {
			continue
		}
		ctx[name] = func(args ...*pongo2.Value) (*pongo2.Value, error) {
			out, err := fn(call, args...)
			if err != nil {
				if failed.err == nil {
					failed.name, failed.err = name, err
				}
				return nil, err
			}
			return toValue(out), nil
		}
	}
}

func toValue(v any) *pongo2.Value {
	switch t := v.(type) {
	case *pongo2.Value:
		if t == nil {
			return pongo2.AsValue(nil)
		}
		return t
	case HTML:
		return pongo2.AsSafeValue(string(t))
	default:
		return pongo2.AsValue(v)
	}
}
