// Package registry implements the process-wide factory table that maps
// (kind, name) pairs to constructors. Graph descriptions refer to streams,
// codecs, and flows by string name; the registry turns those names plus a
// parameter string into live instances, and answers capability questions
// through matcher predicates without constructing anything.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zsiec/mediaflow/param"
)

// ErrNotFound is returned when no factory is registered under a name.
var ErrNotFound = errors.New("registry: factory not found")

// Kind partitions the factory namespace.
type Kind int

// Factory kinds.
const (
	KindStream Kind = iota
	KindEncoder
	KindDecoder
	KindDemuxer
	KindMuxer
	KindFlow
)

// String returns the kind's debug name.
func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindEncoder:
		return "encoder"
	case KindDecoder:
		return "decoder"
	case KindDemuxer:
		return "demuxer"
	case KindMuxer:
		return "muxer"
	case KindFlow:
		return "flow"
	}
	return "unknown"
}

// Constructor builds an instance from parsed parameters. A construction
// failure is an error return; the caller discards the instance.
type Constructor func(params map[string]string) (any, error)

// Matcher answers a capability rule without constructing. The rule is a
// parsed key=value map, e.g. {input_data_type: audio:pcm_s16}.
type Matcher func(rule map[string]string) bool

// Factory pairs a constructor with an optional capability matcher.
type Factory struct {
	New   Constructor
	Match Matcher
}

// Registry is a name-indexed set of typed factories. Registration happens
// during library initialization; after that the table is read-mostly and
// safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[Kind]map[string]Factory)}
}

var defaultRegistry = New()

// Default returns the shared process-wide registry. It starts empty;
// built-in backends are added by passing it to their packages'
// RegisterWith helpers.
func Default() *Registry { return defaultRegistry }

// Register adds a factory under (kind, name). Re-registering a name
// replaces the previous factory; last registration wins.
func (r *Registry) Register(kind Kind, name string, f Factory) {
	if f.New == nil {
		panic("registry: factory with nil constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byName := r.factories[kind]
	if byName == nil {
		byName = make(map[string]Factory)
		r.factories[kind] = byName
	}
	byName[name] = f
}

// lookup returns the factory for (kind, name).
func (r *Registry) lookup(kind Kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind][name]
	return f, ok
}

// Create parses the parameter string, resolves the named constructor, and
// returns the constructed instance. An unknown name yields ErrNotFound.
func (r *Registry) Create(kind Kind, name, paramStr string) (any, error) {
	f, ok := r.lookup(kind, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
	}
	inst, err := f.New(param.Parse(paramStr))
	if err != nil {
		return nil, fmt.Errorf("registry: construct %s %q: %w", kind, name, err)
	}
	return inst, nil
}

// IsMatch evaluates the named factory's matcher against a rule string in
// the key=value language. A factory without a matcher matches nothing.
func (r *Registry) IsMatch(kind Kind, name, rule string) bool {
	f, ok := r.lookup(kind, name)
	if !ok || f.Match == nil {
		return false
	}
	return f.Match(param.Parse(rule))
}

// HasMatcher reports whether the named factory exists and carries a
// capability matcher.
func (r *Registry) HasMatcher(kind Kind, name string) bool {
	f, ok := r.lookup(kind, name)
	return ok && f.Match != nil
}

// Names returns the sorted names registered under kind.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories[kind]))
	for name := range r.factories[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dump logs the registered names under kind, for debugging.
func (r *Registry) Dump(kind Kind, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log.Info("registered factories", "kind", kind.String(), "names", r.Names(kind))
}

// CreateAs constructs via r.Create and asserts the result to T.
func CreateAs[T any](r *Registry, kind Kind, name, paramStr string) (T, error) {
	var zero T
	inst, err := r.Create(kind, name, paramStr)
	if err != nil {
		return zero, err
	}
	t, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("registry: %s %q built %T, not %T", kind, name, inst, zero)
	}
	return t, nil
}

// TagMatcher builds a Matcher over input/output data-type tag lists. Either
// list may be empty, meaning the factory has no constraint on that side
// (sources have no input type); a rule that names a key the factory has no
// tags for does not match. Tag lists are comma-separated data-type tags.
func TagMatcher(inputTags, outputTags string) Matcher {
	return func(rule map[string]string) bool {
		if len(rule) == 0 {
			return false
		}
		if want, ok := rule[param.KeyInputDataType]; ok {
			if !param.Intersects(inputTags, want) {
				return false
			}
		}
		if want, ok := rule[param.KeyOutputDataType]; ok {
			if !param.Intersects(outputTags, want) {
				return false
			}
		}
		return true
	}
}
