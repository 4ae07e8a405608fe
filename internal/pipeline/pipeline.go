// Package pipeline holds the per-kind processing logic a claimed job runs
// through. A pipeline receives a claim, does the work, and returns a terminal
// outcome; errors decide between retry and archive, never the pipeline itself.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/mediaflow/jobqueue/internal/jobstore"
)

// Pipeline processes one kind of job. Run must honor ctx cancellation; a
// returned error marked retryable means a later delivery may succeed.
type Pipeline interface {
	Kind() string
	Run(ctx context.Context, claim *jobstore.Claim) (jobstore.Outcome, error)
}

// Registry maps job kinds to their pipelines
type Registry struct {
	pipelines map[string]Pipeline
}

// NewRegistry builds a registry from the given pipelines. Duplicate kinds are
// a programming error and panic at startup.
func NewRegistry(pipelines ...Pipeline) *Registry {
	r := &Registry{pipelines: make(map[string]Pipeline, len(pipelines))}
	for _, p := range pipelines {
		if _, exists := r.pipelines[p.Kind()]; exists {
			panic(fmt.Sprintf("duplicate pipeline for kind %q", p.Kind()))
		}
		r.pipelines[p.Kind()] = p
	}
	return r
}

// Lookup returns the pipeline for kind
func (r *Registry) Lookup(kind string) (Pipeline, error) {
	p, ok := r.pipelines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return p, nil
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.pipelines))
	for kind := range r.pipelines {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
