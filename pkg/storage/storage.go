// Package storage abstracts the input/output locators a job references
// behind a small backend interface, so the worker pipeline never knows
// whether it is talking to the local filesystem or an object store
// (spec §4.H Download/Upload stages; storage itself is an external
// collaborator per spec §1).
package storage

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// Backend moves bytes for one locator scheme.
type Backend interface {
	// Scheme is the locator prefix this backend handles, e.g. "file" or "s3".
	Scheme() string
	// Download streams the object at path (backend-relative, no scheme) to destPath on local disk.
	Download(ctx context.Context, path string, destPath string) error
	// Upload streams the local file at srcPath to the backend-relative path.
	Upload(ctx context.Context, srcPath string, path string) error
	// Probe performs a small write/read/delete round-trip to confirm the backend is reachable.
	Probe(ctx context.Context) error
}

// Registry resolves a locator's scheme to its backend.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry returns an empty registry; call Register for each backend.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces the backend for its own Scheme().
func (r *Registry) Register(b Backend) {
	r.backends[b.Scheme()] = b
}

// Resolve splits a locator of the form "scheme://path" (or a bare path,
// defaulting to "file") and returns the backend plus the backend-relative
// path.
func (r *Registry) Resolve(locator string) (Backend, string, error) {
	scheme, path := splitLocator(locator)
	backend, ok := r.backends[scheme]
	if !ok {
		return nil, "", apperrors.NewValidationError(fmt.Sprintf("unsupported storage scheme %q", scheme))
	}
	return backend, path, nil
}

// All returns every registered backend, for the admin storage-status probe
// (SPEC_FULL.md §C) which round-trips each configured backend.
func (r *Registry) All() map[string]Backend {
	return r.backends
}

func splitLocator(locator string) (scheme, path string) {
	if idx := strings.Index(locator, "://"); idx >= 0 {
		return locator[:idx], locator[idx+3:]
	}
	return "file", locator
}
