package audit

import (
	"sort"
	"strings"
	"sync"
)

// globalPIIFields are always treated as PII for every resource type,
// matched by case-insensitive equality against the literal field name.
var globalPIIFields = map[string]struct{}{
	"email":         {},
	"emailaddress":  {},
	"email_address": {},
	"phone":         {},
	"phonenumber":   {},
	"phone_number":  {},
	"mobile":        {},
	"ip":            {},
	"ipaddress":     {},
	"ip_address":    {},
	"name":          {},
	"firstname":     {},
	"first_name":    {},
	"lastname":      {},
	"last_name":     {},
	"fullname":      {},
	"full_name":     {},
	"address":       {},
	"ssn":           {},
	"dateofbirth":   {},
	"date_of_birth": {},
	"dob":           {},
}

// actorPIIFields are encrypted unconditionally when a key is configured,
// independent of resource type.
var actorPIIFields = map[string]struct{}{
	"actoremail":  {},
	"actorip":     {},
	"actordevice": {},
}

// sensitiveFields must never be stored in any recoverable form. They are
// fully redacted, never merely encrypted. Matching is exact,
// case-insensitive.
var sensitiveFields = map[string]struct{}{
	"password":       {},
	"secret":         {},
	"token":          {},
	"apikey":         {},
	"api_key":        {},
	"privatekey":     {},
	"private_key":    {},
	"accesstoken":    {},
	"access_token":   {},
	"refreshtoken":   {},
	"refresh_token":  {},
	"clientsecret":   {},
	"client_secret":  {},
	"encryptionkey":  {},
	"encryption_key": {},
	"signingkey":     {},
	"signing_key":    {},
	"webhooksecret":  {},
	"webhook_secret": {},
}

// FieldInfo annotates a registered PII field.
type FieldInfo struct {
	Description string
}

// Registry is the process-wide catalog of PII fields per resource type.
// It is populated at startup and read-mostly afterwards; construct one
// instance at the composition root and pass it by reference.
type Registry struct {
	mu     sync.RWMutex
	fields map[ResourceType]map[string]FieldInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[ResourceType]map[string]FieldInfo)}
}

// Register merges fields into the entry for the resource type. Calls are
// additive and idempotent; a repeated field name only overwrites its
// description.
func (r *Registry) Register(resourceType ResourceType, fields map[string]FieldInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.fields[resourceType]
	if !ok {
		entry = make(map[string]FieldInfo, len(fields))
		r.fields[resourceType] = entry
	}
	for name, info := range fields {
		entry[strings.ToLower(name)] = info
	}
}

// Fields returns the registered field names for the resource type,
// union'd with the global PII set. Unknown resource types yield the
// global-only set.
func (r *Registry) Fields(resourceType ResourceType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{}, len(globalPIIFields))
	for name := range globalPIIFields {
		set[name] = struct{}{}
	}
	for name := range r.fields[resourceType] {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPII reports whether the field is registered for the resource type or
// belongs to the global PII set. Matching is case-insensitive and exact,
// never substring.
func (r *Registry) IsPII(resourceType ResourceType, field string) bool {
	name := strings.ToLower(field)
	if _, ok := globalPIIFields[name]; ok {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[resourceType][name]
	return ok
}

// Reset clears all registrations. Test and administrative use only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields = make(map[ResourceType]map[string]FieldInfo)
}

// IsActorPIIField reports whether the field is one of the actor-level
// PII fields (actorEmail, actorIp, actorDevice).
func IsActorPIIField(field string) bool {
	_, ok := actorPIIFields[strings.ToLower(field)]
	return ok
}

// IsSensitiveField reports whether the field must be fully redacted.
func IsSensitiveField(field string) bool {
	_, ok := sensitiveFields[strings.ToLower(field)]
	return ok
}
