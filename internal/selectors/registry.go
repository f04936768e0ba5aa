// File: internal/selectors/registry.go
// Description: Per-site lookup from abstract action targets to concrete
// locator strategies. All site-specific DOM knowledge lives here; the
// orchestrator and the browser primitives stay site-agnostic, so adding a
// site is a new registry entry, never an orchestrator change.
package selectors

import (
	"sort"
	"sync"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Abstract action targets the orchestrator resolves through the registry.
const (
	TargetSearchResults     = "search_results"
	TargetAddToCart         = "add_to_cart"
	TargetGoToCart          = "go_to_cart"
	TargetProceedToCheckout = "proceed_to_checkout"
	TargetShippingForm      = "shipping_form"
)

// Listing field names used by extraction strategies.
const (
	FieldTitle = "title"
	FieldPrice = "price"
	FieldLink  = "link"
)

// LocatorStrategy is one site-specific way of finding the page elements for an
// abstract action. Candidates are tried in order until one matches.
type LocatorStrategy struct {
	// Name labels the strategy in logs and diagnostics.
	Name string
	// Query is the CSS query anchoring the action (listing item container,
	// add-to-cart button, ...).
	Query string
	// Fields holds sub-queries: for extraction, field name to a query
	// relative to Query; for form filling, canonical field name to the
	// input's query.
	Fields map[string]string
}

// SiteProfile describes a supported site: how to reach its search surface and
// how to recognize its cart and checkout pages.
type SiteProfile struct {
	Name string
	// SearchURL is a format template taking the URL-escaped query.
	SearchURL string
	// CartURLPattern and CheckoutURLPattern are substrings expected in the
	// page URL after the respective transition; used for stage verification.
	CartURLPattern     string
	CheckoutURLPattern string
}

type siteEntry struct {
	profile SiteProfile
	actions map[string][]LocatorStrategy
}

// Registry maps site names to their selector catalogs.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]*siteEntry
}

// NewRegistry returns a registry pre-populated with the built-in site
// catalogs.
func NewRegistry() *Registry {
	r := &Registry{sites: make(map[string]*siteEntry)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a site catalog.
func (r *Registry) Register(profile SiteProfile, actions map[string][]LocatorStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[profile.Name] = &siteEntry{profile: profile, actions: actions}
}

// Known reports whether a site has a registry entry.
func (r *Registry) Known(site string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sites[site]
	return ok
}

// Site returns the profile for a site, or UnsupportedSite.
func (r *Registry) Site(site string) (SiteProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sites[site]
	if !ok {
		return SiteProfile{}, schemas.NewStageError(schemas.CodeUnsupportedSite, "no selector catalog for site %q", site)
	}
	return entry.profile, nil
}

// Resolve returns the ordered candidate strategies for an abstract action
// target on a site. An unknown site yields UnsupportedSite; a known site with
// no entry for the target yields an empty, non-nil slice is never returned —
// missing targets are also UnsupportedSite since the stage cannot proceed.
func (r *Registry) Resolve(site, target string) ([]LocatorStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sites[site]
	if !ok {
		return nil, schemas.NewStageError(schemas.CodeUnsupportedSite, "no selector catalog for site %q", site)
	}
	strategies, ok := entry.actions[target]
	if !ok || len(strategies) == 0 {
		return nil, schemas.NewStageError(schemas.CodeUnsupportedSite, "site %q has no strategies for %q", site, target)
	}
	return strategies, nil
}

// Sites lists the registered site names, sorted.
func (r *Registry) Sites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sites))
	for name := range r.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
