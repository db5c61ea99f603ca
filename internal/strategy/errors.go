package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedKind is matched by every UnsupportedKindError.
var ErrUnsupportedKind = errors.New("strategy: unsupported strategy kind")

// UnsupportedKindError reports a tag that is not in the registry.
type UnsupportedKindError struct {
	Kind Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("strategy: unsupported strategy kind %q", string(e.Kind))
}

func (e *UnsupportedKindError) Is(target error) bool {
	return target == ErrUnsupportedKind
}

// ValidationError carries per-field messages for a rejected parameter set.
// Callers re-prompt for the listed fields; nothing was saved.
type ValidationError struct {
	Kind   Kind
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("strategy: invalid %s parameters: %s", e.Kind, strings.Join(parts, "; "))
}
