package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDefaultQueue(t *testing.T) {
	r := New("default")
	assert.Equal(t, "default", r.Resolve("emails.send", ""))
}

func TestResolveLiteralBeatsWildcard(t *testing.T) {
	r := New("default")
	r.Route("emails.*", "emails-generic")
	r.Route("emails.send", "emails-priority")

	assert.Equal(t, "emails-priority", r.Resolve("emails.send", ""))
	assert.Equal(t, "emails-generic", r.Resolve("emails.receive", ""))
}

func TestResolveDoubleWildcard(t *testing.T) {
	r := New("default")
	r.Route("reports.**", "reports-all")
	assert.Equal(t, "reports-all", r.Resolve("reports.monthly.export", ""))
}

func TestResolveFullySpecifiedWildcardBeatsDoubleWildcard(t *testing.T) {
	r := New("default")
	r.Route("email.**", "email-all")
	r.Route("*.*.*", "three-segment")

	assert.Equal(t, "three-segment", r.Resolve("email.welcome.send", ""))
}

func TestResolveTenantOverlaySuffix(t *testing.T) {
	r := New("default")
	r.Route("emails.send", "emails")
	r.SetOverlay(&TenantOverlay{Mode: OverlaySuffix, Separator: "."})

	assert.Equal(t, "emails.acme", r.Resolve("emails.send", "acme"))
	assert.Equal(t, "emails", r.Resolve("emails.send", ""))
}

func TestResolveTenantOverlayAllowList(t *testing.T) {
	r := New("default")
	r.Route("emails.send", "emails")
	r.SetOverlay(&TenantOverlay{Mode: OverlaySuffix, Separator: "-", AllowTenants: []string{"acme"}})

	assert.Equal(t, "emails-acme", r.Resolve("emails.send", "acme"))
	assert.Equal(t, "emails", r.Resolve("emails.send", "other"))
}

func TestResolveTenantOverlayCustom(t *testing.T) {
	r := New("default")
	r.Route("emails.send", "emails")
	r.SetOverlay(&TenantOverlay{Mode: OverlayCustom, Custom: func(base, tenantID string) string {
		return tenantID + "/" + base
	}})

	assert.Equal(t, "acme/emails", r.Resolve("emails.send", "acme"))
}
