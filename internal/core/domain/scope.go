package domain

import "fmt"

// GlobalOrgKey is the canonical organisation key of rows that carry no
// organisation. Organisation ids are never empty (the empty string is how
// the domain spells "no organisation"), so the key cannot collide with a
// real id.
const GlobalOrgKey = ""

// Scope narrows the visibility of a record to a tenant and an organisation.
// Either component may be empty, meaning absent (global).
type Scope struct {
	// TenantID is the owning tenant, or empty when the record is shared.
	TenantID string `json:"tenantId,omitempty"`

	// OrganizationID is the owning organisation, or empty when global.
	OrganizationID string `json:"organizationId,omitempty"`
}

// CanonicalOrg returns the uniqueness key for an organisation id.
func CanonicalOrg(organizationID string) string {
	if organizationID == "" {
		return GlobalOrgKey
	}
	return organizationID
}

// IsGlobal reports whether neither tenant nor organisation is set.
func (s Scope) IsGlobal() bool {
	return s.TenantID == "" && s.OrganizationID == ""
}

// Matches reports whether a row carrying the given tenant and organisation is
// visible to this scope. A scope component that is empty matches everything;
// a row component that is empty is visible to every scope.
func (s Scope) Matches(tenantID, organizationID string) bool {
	return matchOrNull(s.TenantID, tenantID) && matchOrNull(s.OrganizationID, organizationID)
}

// Key returns a stable string form used for log fields and map keys.
func (s Scope) Key() string {
	return fmt.Sprintf("tenant=%s org=%s", orDash(s.TenantID), orDash(s.OrganizationID))
}

func matchOrNull(want, got string) bool {
	return want == "" || got == "" || want == got
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
