package models

import "github.com/foliohq/folio-api/internal/audit"

// RegisterPIIFields declares which entity fields hold personally
// identifiable data. Called once from the composition root; the global
// always-PII set (email, phone, name, ...) applies on top of these.
func RegisterPIIFields(registry *audit.Registry) {
	registry.Register(audit.ResourceUser, map[string]audit.FieldInfo{
		"passwordhint": {Description: "user supplied password reminder"},
		"avatarurl":    {Description: "may embed the user's name"},
	})
	registry.Register(audit.ResourceDocument, map[string]audit.FieldInfo{
		"ownerEmail": {Description: "document owner contact"},
		"authorName": {Description: "display name of the author"},
	})
	registry.Register(audit.ResourceSite, map[string]audit.FieldInfo{
		"contactEmail": {Description: "public site contact"},
		"customDomain": {Description: "may identify an individual"},
	})
	registry.Register(audit.ResourceIntegration, map[string]audit.FieldInfo{
		"accountEmail": {Description: "connected account owner"},
	})
}
