package templating

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultSplices returns the splices every manager starts with. They can be
// replaced through AddSplices or unbound through Modify.
func DefaultSplices() Splices {
	return Splices{
		"sanitize": sanitize,
		"repeat":   repeat,
		"list":     list,
		"is_set":   isSet,
		"choice":   choice,
	}
}

var ugcPolicy = sync.OnceValue(bluemonday.UGCPolicy)

func wantArgs(name string, args []*pongo2.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

// sanitize strips unsafe markup from user-generated HTML and emits the rest
// unescaped.
func sanitize(_ *Call, args ...*pongo2.Value) (any, error) {
	if err := wantArgs("sanitize", args, 1); err != nil {
		return nil, err
	}
	return HTML(ugcPolicy().Sanitize(args[0].String())), nil
}

// maxRepeat bounds the slice repeat will allocate for a single call.
const maxRepeat = 10000

// repeat returns a slice of integers from 0 to count-1.
func repeat(_ *Call, args ...*pongo2.Value) (any, error) {
	if err := wantArgs("repeat", args, 1); err != nil {
		return nil, err
	}
	count := args[0].Integer()
	if count < 0 {
		return []int{}, nil
	}
	if count > maxRepeat {
		return nil, fmt.Errorf("repeat: count %d exceeds the limit of %d", count, maxRepeat)
	}
	s := make([]int, count)
	for i := range s {
		s[i] = i
	}
	return s, nil
}

// list returns a slice containing all the arguments passed to it.
func list(_ *Call, args ...*pongo2.Value) (any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		out[i] = arg.Interface()
	}
	return out, nil
}

// isSet returns true if a value is not its zero value.
func isSet(_ *Call, args ...*pongo2.Value) (any, error) {
	if err := wantArgs("is_set", args, 1); err != nil {
		return nil, err
	}
	v := reflect.ValueOf(args[0].Interface())
	if !v.IsValid() {
		return false, nil
	}
	return !v.IsZero(), nil
}

// choice returns a random element of a slice, or nothing for an empty one.
func choice(_ *Call, args ...*pongo2.Value) (any, error) {
	if err := wantArgs("choice", args, 1); err != nil {
		return nil, err
	}
	v := reflect.ValueOf(args[0].Interface())
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("choice: expected a list, got %s", v.Kind())
	}
	if v.Len() == 0 {
		return nil, nil
	}
	return v.Index(rand.IntN(v.Len())).Interface(), nil
}
