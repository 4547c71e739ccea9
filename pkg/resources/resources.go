// Package resources defines the catalog of Google Ads report resources:
// which schema file each one reads, how its date window is planned, the
// merge key records are deduplicated on, and how a sink applies them.
package resources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/gaql"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/window"
)

// Resource describes one extractable report
type Resource struct {
	// Name identifies the resource and names its schema file
	Name string
	// Table is the GAQL FROM resource
	Table string
	// Policy chooses how the date window is planned
	Policy window.Policy
	// LookbackDays caps first-run slices for PolicyDailySlices
	LookbackDays int
	// Conditions are static filters used by PolicyFixed
	Conditions []string
	// OrderBy and Limit are optional clauses
	OrderBy string
	Limit   int
	// MergeKey lists the flattened columns identifying a row
	MergeKey    []string
	Disposition models.WriteDisposition
	// StaticFields replaces the schema file when set
	StaticFields []string
	// Project keeps only the named sub-object of each row
	Project string
	// Default marks members of the default extraction set
	Default bool
}

// UsesSchema reports whether fields come from a schema file
func (r Resource) UsesSchema() bool {
	return len(r.StaticFields) == 0
}

// Validate checks that the definition is internally consistent
func (r Resource) Validate() error {
	if r.Name == "" || r.Table == "" {
		return errors.New(errors.ErrorTypeValidation, "resource name and table are required")
	}
	switch r.Policy {
	case window.PolicyRange, window.PolicyDailySlices:
	case window.PolicyFixed:
		if r.Limit < 0 {
			return errors.Newf(errors.ErrorTypeValidation, "resource %s: limit must be >= 0", r.Name)
		}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "resource %s: unknown policy %q", r.Name, r.Policy)
	}
	switch r.Disposition {
	case models.DispositionMerge:
		if len(r.MergeKey) == 0 {
			return errors.Newf(errors.ErrorTypeValidation, "resource %s: merge disposition needs a merge key", r.Name)
		}
	case models.DispositionReplace, models.DispositionAppend:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "resource %s: unknown disposition %q", r.Name, r.Disposition)
	}
	return nil
}

// Catalog is a name-indexed set of resources that keeps registration order
type Catalog struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]Resource
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{byKey: make(map[string]Resource)}
}

// Register adds or replaces a resource
func (c *Catalog) Register(r Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byKey[r.Name]; !exists {
		c.order = append(c.order, r.Name)
	}
	c.byKey[r.Name] = r
	return nil
}

// MustRegister is Register that panics, for static catalogs
func (c *Catalog) MustRegister(r Resource) {
	if err := c.Register(r); err != nil {
		panic(err)
	}
}

// Get looks up a resource
func (c *Catalog) Get(name string) (Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byKey[name]
	if !ok {
		return Resource{}, errors.Newf(errors.ErrorTypeNotFound, "unknown resource %q", name).
			WithDetail("resource", name)
	}
	return r, nil
}

// All returns every resource in registration order
func (c *Catalog) All() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Resource, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byKey[name])
	}
	return out
}

// Names returns the sorted resource names
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := append([]string(nil), c.order...)
	sort.Strings(names)
	return names
}

// DefaultSet returns the resources extracted when none are named
func (c *Catalog) DefaultSet() []Resource {
	var out []Resource
	for _, r := range c.All() {
		if r.Default {
			out = append(out, r)
		}
	}
	return out
}

// Select resolves names to resources; an empty list selects the default set
func (c *Catalog) Select(names []string) ([]Resource, error) {
	if len(names) == 0 {
		return c.DefaultSet(), nil
	}
	out := make([]Resource, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		r, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ChangeEventWindow is the predefined range change history is read over
const ChangeEventWindow = "LAST_14_DAYS"

// ChangeEventLimit caps the change history rows per query
const ChangeEventLimit = 1000

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in catalog
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = NewCatalog()
		for _, r := range builtin() {
			defaultCatalog.MustRegister(r)
		}
	})
	return defaultCatalog
}

func builtin() []Resource {
	ranged := func(name string, key ...string) Resource {
		return Resource{
			Name:        name,
			Table:       name,
			Policy:      window.PolicyRange,
			MergeKey:    key,
			Disposition: models.DispositionMerge,
			Default:     true,
		}
	}

	clickView := Resource{
		Name:         "click_view",
		Table:        "click_view",
		Policy:       window.PolicyDailySlices,
		LookbackDays: window.DefaultLookbackDays,
		MergeKey:     []string{"click_view__gclid", "segments__date", "segments__ad_network_type"},
		Disposition:  models.DispositionMerge,
		Default:      true,
	}

	changeEvent := Resource{
		Name:        "change_event",
		Table:       "change_event",
		Policy:      window.PolicyFixed,
		Conditions:  []string{gaql.During("change_event.change_date_time", ChangeEventWindow)},
		Limit:       ChangeEventLimit,
		MergeKey:    []string{"change_event__change_date_time", "change_event__resource_name", "change_event__change_resource_type"},
		Disposition: models.DispositionMerge,
		Default:     true,
	}

	customerClient := Resource{
		Name:         "customer_client",
		Table:        "customer_client",
		Policy:       window.PolicyFixed,
		StaticFields: []string{"customer_client.status"},
		Project:      "customer_client",
		Disposition:  models.DispositionReplace,
	}

	return []Resource{
		ranged("campaign", "campaign__id", "segments__date", "segments__ad_network_type"),
		ranged("ad_group", "ad_group__id", "segments__date"),
		ranged("ad_group_ad", "ad_group__id", "ad_group_ad__ad__id", "segments__date"),
		clickView,
		ranged("customer", "customer__id", "segments__date"),
		ranged("display_keyword_view",
			"ad_group__id", "ad_group_criterion__criterion_id", "segments__date",
			"segments__ad_network_type", "segments__device"),
		ranged("keyword_view", "ad_group__id", "ad_group_criterion__criterion_id", "segments__date"),
		changeEvent,
		customerClient,
	}
}

// String implements fmt.Stringer
func (r Resource) String() string {
	return fmt.Sprintf("%s(%s, %s)", r.Name, r.Policy, r.Disposition)
}
