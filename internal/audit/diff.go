package audit

import (
	"fmt"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"
)

const (
	maxStringLength = 1000
	maxArrayLength  = 100
	redactedMarker  = "[REDACTED]"
)

// Differ computes field-level change lists between two record snapshots,
// applying deep equality, truncation, sensitive-field suppression and
// PII encryption rules.
type Differ struct {
	registry *Registry
	cipher   *Cipher
}

// NewDiffer builds a differ over the given registry and cipher.
func NewDiffer(registry *Registry, cipher *Cipher) *Differ {
	return &Differ{registry: registry, cipher: cipher}
}

// Diff returns the ordered list of field changes between old and new.
// A nil old signals creation, a nil new signals deletion, both nil
// yields an empty list. trackedFields restricts the compared fields;
// when empty the snapshots' own keys are used.
func (d *Differ) Diff(oldValue, newValue map[string]any, resourceType ResourceType, trackedFields []string) []FieldChange {
	switch {
	case oldValue == nil && newValue == nil:
		return []FieldChange{}
	case oldValue == nil:
		return d.oneSided(newValue, resourceType, trackedFields, false)
	case newValue == nil:
		return d.oneSided(oldValue, resourceType, trackedFields, true)
	}

	fields := trackedFields
	if len(fields) == 0 {
		fields = unionKeys(oldValue, newValue)
	}

	changes := []FieldChange{}
	for _, field := range fields {
		if IsSensitiveField(field) {
			continue
		}
		oldField, newField := oldValue[field], newValue[field]
		if isFunc(oldField) || isFunc(newField) {
			continue
		}
		if deepEqual(oldField, newField) {
			continue
		}
		changes = append(changes, FieldChange{
			Field: field,
			Old:   d.sanitize(oldField, field, resourceType),
			New:   d.sanitize(newField, field, resourceType),
		})
	}
	return changes
}

// oneSided emits creation or deletion changes for a single snapshot.
func (d *Differ) oneSided(value map[string]any, resourceType ResourceType, trackedFields []string, deleted bool) []FieldChange {
	fields := trackedFields
	if len(fields) == 0 {
		fields = sortedKeys(value)
	}
	changes := []FieldChange{}
	for _, field := range fields {
		fieldValue, ok := value[field]
		if !ok || IsSensitiveField(field) || isFunc(fieldValue) {
			continue
		}
		change := FieldChange{Field: field}
		if deleted {
			change.Old = d.sanitize(fieldValue, field, resourceType)
		} else {
			change.New = d.sanitize(fieldValue, field, resourceType)
		}
		changes = append(changes, change)
	}
	return changes
}

// sanitize prepares one value for storage: sensitive fields are
// redacted before anything else, oversized strings and arrays are
// replaced with placeholders, PII strings are encrypted, and nested
// structures are processed level by level with the nested key as the
// field name.
func (d *Differ) sanitize(value any, field string, resourceType ResourceType) any {
	if value == nil {
		return nil
	}
	if IsSensitiveField(field) {
		return redactedMarker
	}

	switch v := value.(type) {
	case string:
		// Length is measured in runes, not bytes, so multibyte text
		// is not truncated early.
		if n := utf8.RuneCountInString(v); n > maxStringLength {
			v = fmt.Sprintf("[%d characters]", n)
		}
		return d.cipher.EncryptIfPII(d.registry, resourceType, field, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, nested := range v {
			out[key] = d.sanitize(nested, key, resourceType)
		}
		return out
	case time.Time:
		return v
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return d.sanitizeSlice(rv, field, resourceType)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				key := iter.Key().String()
				out[key] = d.sanitize(iter.Value().Interface(), key, resourceType)
			}
			return out
		}
		return value
	default:
		return value
	}
}

// sanitizeSlice handles array values. PII fields take a dedicated path:
// string elements are encrypted one by one and non-strings pass through
// with no truncation or recursion.
func (d *Differ) sanitizeSlice(rv reflect.Value, field string, resourceType ResourceType) any {
	length := rv.Len()
	if d.cipher.Enabled() && d.registry.IsPII(resourceType, field) {
		out := make([]any, length)
		for i := 0; i < length; i++ {
			item := rv.Index(i).Interface()
			if s, ok := item.(string); ok {
				out[i] = d.cipher.Encrypt(s)
			} else {
				out[i] = item
			}
		}
		return out
	}
	if length > maxArrayLength {
		return fmt.Sprintf("[Array of %d items]", length)
	}
	out := make([]any, length)
	for i := 0; i < length; i++ {
		out[i] = d.sanitize(rv.Index(i).Interface(), field, resourceType)
	}
	return out
}

// deepEqual compares two snapshot values. Times compare by millisecond
// timestamp, slices element-wise (a slice is never equal to a
// non-slice), string-keyed maps by key count then per-key recursion,
// everything else by strict value equality.
func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.UnixMilli() == bt.UnixMilli()
	}
	if _, ok := b.(time.Time); ok {
		return false
	}

	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	aIsSlice := av.Kind() == reflect.Slice || av.Kind() == reflect.Array
	bIsSlice := bv.Kind() == reflect.Slice || bv.Kind() == reflect.Array
	if aIsSlice != bIsSlice {
		return false
	}
	if aIsSlice {
		if av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			if !deepEqual(av.Index(i).Interface(), bv.Index(i).Interface()) {
				return false
			}
		}
		return true
	}

	aIsMap := av.Kind() == reflect.Map
	bIsMap := bv.Kind() == reflect.Map
	if aIsMap != bIsMap {
		return false
	}
	if aIsMap {
		if av.Len() != bv.Len() {
			return false
		}
		iter := av.MapRange()
		for iter.Next() {
			bItem := bv.MapIndex(iter.Key())
			if !bItem.IsValid() {
				return false
			}
			if !deepEqual(iter.Value().Interface(), bItem.Interface()) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func isFunc(value any) bool {
	if value == nil {
		return false
	}
	return reflect.ValueOf(value).Kind() == reflect.Func
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func unionKeys(a, b map[string]any) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for key := range a {
		set[key] = struct{}{}
	}
	for key := range b {
		set[key] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
