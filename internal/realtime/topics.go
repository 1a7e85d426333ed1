package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wolfman30/lumen-clinic/internal/changes"
)

// Params are the subscription arguments sent by the client.
type Params map[string]string

// Resolver loads a topic's current snapshot. ctx carries the connection's
// staff claims.
type Resolver func(ctx context.Context, params Params) (any, error)

// Topic is a named live query and the collections that invalidate it.
type Topic struct {
	Collections []changes.Collection
	Resolve     Resolver
}

// ErrUnknownTopic is reported for unregistered topic names.
var ErrUnknownTopic = errors.New("unknown topic")

// MissingParamError names a required subscription parameter.
type MissingParamError string

func (e MissingParamError) Error() string { return fmt.Sprintf("param %q is required", string(e)) }

// Require returns the named params, or a MissingParamError for the first absent one.
func (p Params) Require(names ...string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		v := p[n]
		if v == "" {
			return nil, MissingParamError(n)
		}
		out = append(out, v)
	}
	return out, nil
}

// Registry holds the topics clients may subscribe to.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]Topic
}

func NewRegistry() *Registry {
	return &Registry{topics: map[string]Topic{}}
}

// Register adds or replaces a topic.
func (r *Registry) Register(name string, t Topic) {
	if t.Resolve == nil {
		panic("realtime: topic " + name + " needs a resolver")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[name] = t
}

func (r *Registry) lookup(name string) (Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return Topic{}, fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	return t, nil
}

// Resolve loads the current snapshot of a named topic.
func (r *Registry) Resolve(ctx context.Context, name string, params Params) (any, error) {
	t, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.Resolve(ctx, params)
}

// Names lists registered topics in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics))
	for name := range r.topics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (t Topic) watches(c changes.Collection) bool {
	for _, w := range t.Collections {
		if w == c {
			return true
		}
	}
	return false
}
