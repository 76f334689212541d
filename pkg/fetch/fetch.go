// Package fetch provides the byte-transport capability consumed by the
// scheduler. A Fetcher resolves an opaque level locator to its payload and
// must honor context cancellation promptly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFetchFailed indicates a transient transport failure; the scheduler
	// retries these per its policy.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrUnsupportedLocator indicates no fetcher understands the locator
	// scheme. Not retried.
	ErrUnsupportedLocator = errors.New("unsupported locator")
)

// Fetcher retrieves the payload behind a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// Router dispatches by locator scheme ("s3://...", "https://...") to the
// fetcher registered for that scheme.
type Router struct {
	bySchema map[string]Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{bySchema: make(map[string]Fetcher)}
}

// Register binds a scheme (without "://") to a fetcher.
func (r *Router) Register(scheme string, f Fetcher) {
	r.bySchema[strings.ToLower(scheme)] = f
}

// Fetch routes to the fetcher for the locator's scheme.
func (r *Router) Fetch(ctx context.Context, locator string) ([]byte, error) {
	scheme, _, found := strings.Cut(locator, "://")
	if !found {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrUnsupportedLocator, locator)
	}
	f, ok := r.bySchema[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedLocator, scheme)
	}
	return f.Fetch(ctx, locator)
}
