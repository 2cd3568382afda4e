// Package pages resolves menu route keys to the handlers that render them.
package pages

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// ErrDuplicatePage is returned when a route key is registered twice.
var ErrDuplicatePage = errors.New("pages: route key already registered")

// Factory builds the handler for a route key.
type Factory func(routeKey string) http.Handler

// Registry maps route keys to page factories. Keys without a factory
// resolve to the placeholder page.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	placeholder Factory
}

// NewRegistry returns an empty registry using Placeholder as fallback.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, placeholder: Placeholder}
}

// Register binds routeKey to factory.
func (r *Registry) Register(routeKey string, factory Factory) error {
	routeKey = strings.Trim(strings.TrimSpace(routeKey), "/")
	if routeKey == "" || factory == nil {
		return fmt.Errorf("pages: register %q: empty route key or factory", routeKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[routeKey]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePage, routeKey)
	}
	r.factories[routeKey] = factory
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(routeKey string, factory Factory) {
	if err := r.Register(routeKey, factory); err != nil {
		panic(err)
	}
}

// Resolve returns the page for routeKey and whether a factory was found.
func (r *Registry) Resolve(routeKey string) (http.Handler, bool) {
	r.mu.RLock()
	factory, ok := r.factories[routeKey]
	r.mu.RUnlock()
	if !ok {
		return r.placeholder(routeKey), false
	}
	return factory(routeKey), true
}

// Keys lists the registered route keys in order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Descriptor is the JSON body of a page that has no richer rendering.
type Descriptor struct {
	RouteKey    string `json:"route_key"`
	Title       string `json:"title"`
	Placeholder bool   `json:"placeholder"`
	Target      string `json:"target,omitempty"`
}

// Placeholder renders a descriptor telling the client the page is not
// built yet.
func Placeholder(routeKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, Descriptor{RouteKey: routeKey, Title: titleOf(routeKey), Placeholder: true})
	})
}

// Static returns a factory rendering a descriptor with a fixed title.
func Static(title string) Factory {
	return func(routeKey string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpx.JSON(w, http.StatusOK, Descriptor{RouteKey: routeKey, Title: title})
		})
	}
}

// API returns a factory pointing the client at the JSON API that backs the
// page.
func API(title, target string) Factory {
	return func(routeKey string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpx.JSON(w, http.StatusOK, Descriptor{RouteKey: routeKey, Title: title, Target: target})
		})
	}
}

func titleOf(routeKey string) string {
	last := routeKey
	if i := strings.LastIndex(routeKey, "/"); i >= 0 {
		last = routeKey[i+1:]
	}
	if last == "" {
		return routeKey
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
