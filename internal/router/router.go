// Package router resolves a task name to a destination queue using
// glob-style routing rules, with an optional per-tenant overlay applied on
// top of the base resolution (spec §4.9). Routing is copy-on-write, the
// same pattern package registry uses, since rule updates are rare and
// lookups sit on the publish hot path.
package router

import (
	"sort"
	"strings"
	"sync/atomic"
)

// Rule maps a glob pattern over task names to a destination queue. `*`
// matches a single path segment (split on '.'); `**` matches any number of
// trailing segments.
type Rule struct {
	Pattern string
	Queue   string
}

// OverlayMode selects how a TenantOverlay derives the final queue name from
// the base resolution.
type OverlayMode int

const (
	// OverlaySuffix appends Separator+tenantID to the base queue name.
	OverlaySuffix OverlayMode = iota
	// OverlayPrefix prepends tenantID+Separator to the base queue name.
	OverlayPrefix
	// OverlayPath replaces the queue name outright with a tenant-specific
	// queue, looked up the same way the base rules are.
	OverlayPath
	// OverlayCustom delegates to a caller-supplied function.
	OverlayCustom
)

// TenantOverlay customizes queue resolution per tenant ID.
type TenantOverlay struct {
	Mode      OverlayMode
	Separator string
	// AllowTenants restricts which tenant IDs the overlay applies to; a nil
	// or empty slice means all tenants. Tenants outside the allow-list fall
	// back to the base resolution unchanged.
	AllowTenants []string
	// Custom is invoked when Mode is OverlayCustom with the base queue and
	// tenant id, returning the final queue name.
	Custom func(baseQueue, tenantID string) string
}

type compiledRule struct {
	Rule
	segments []string
	priority int
}

// Router resolves task names to queues via ordered glob rules.
type Router struct {
	defaultQueue string
	rules        atomic.Pointer[[]compiledRule]
	overlay      atomic.Pointer[TenantOverlay]
}

// New constructs an empty Router falling back to defaultQueue when no rule
// matches.
func New(defaultQueue string) *Router {
	r := &Router{defaultQueue: defaultQueue}
	empty := []compiledRule{}
	r.rules.Store(&empty)
	return r
}

// Route adds a routing rule. Later calls with a higher-priority pattern
// (more literal segments, fewer wildcards) take precedence regardless of
// registration order.
func (r *Router) Route(pattern, queue string) {
	c := compile(pattern, queue)
	for {
		old := r.rules.Load()
		next := make([]compiledRule, len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, c)
		sort.SliceStable(next, func(i, j int) bool { return next[i].priority > next[j].priority })
		if r.rules.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SetOverlay installs or replaces the tenant overlay. Pass nil to disable
// per-tenant routing.
func (r *Router) SetOverlay(o *TenantOverlay) {
	r.overlay.Store(o)
}

// Resolve returns the destination queue for taskName, applying the tenant
// overlay (if any and if tenantID is non-empty).
func (r *Router) Resolve(taskName, tenantID string) string {
	base := r.resolveBase(taskName)
	ov := r.overlay.Load()
	if ov == nil || tenantID == "" {
		return base
	}
	if !ov.allows(tenantID) {
		return base
	}
	switch ov.Mode {
	case OverlaySuffix:
		sep := ov.Separator
		if sep == "" {
			sep = "."
		}
		return base + sep + tenantID
	case OverlayPrefix:
		sep := ov.Separator
		if sep == "" {
			sep = "."
		}
		return tenantID + sep + base
	case OverlayPath:
		return r.resolveBase(tenantID + "." + taskName)
	case OverlayCustom:
		if ov.Custom != nil {
			return ov.Custom(base, tenantID)
		}
		return base
	default:
		return base
	}
}

func (o *TenantOverlay) allows(tenantID string) bool {
	if len(o.AllowTenants) == 0 {
		return true
	}
	for _, t := range o.AllowTenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

func (r *Router) resolveBase(taskName string) string {
	segs := strings.Split(taskName, ".")
	for _, c := range *r.rules.Load() {
		if match(c.segments, segs) {
			return c.Queue
		}
	}
	return r.defaultQueue
}

func compile(pattern, queue string) compiledRule {
	segs := strings.Split(pattern, ".")
	priority := 10 * len(segs)
	for _, s := range segs {
		switch s {
		case "**":
			priority -= 10
		case "*":
			priority -= 5
		}
	}
	return compiledRule{Rule: Rule{Pattern: pattern, Queue: queue}, segments: segs, priority: priority}
}

func match(pattern, name []string) bool {
	pi, ni := 0, 0
	for pi < len(pattern) {
		switch pattern[pi] {
		case "**":
			if pi == len(pattern)-1 {
				return true
			}
			for k := ni; k <= len(name); k++ {
				if match(pattern[pi+1:], name[k:]) {
					return true
				}
			}
			return false
		case "*":
			if ni >= len(name) {
				return false
			}
			pi++
			ni++
		default:
			if ni >= len(name) || name[ni] != pattern[pi] {
				return false
			}
			pi++
			ni++
		}
	}
	return ni == len(name)
}
