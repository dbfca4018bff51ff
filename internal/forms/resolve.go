// internal/forms/resolve.go
package forms

import (
	"strings"

	"github.com/xkilldash9x/formrunner/api/schemas"
)

// ResolveValue picks the value for field from data. Lookup order is exact
// name, exact id, exact purpose, then the first key (in data order) that the
// field's name, or id when it has no name, contains case-insensitively.
// ok is false when nothing matches and the field should be skipped.
func ResolveValue(field schemas.DetectedField, data *schemas.FormData) (schemas.FormValue, bool) {
	if data.Len() == 0 {
		return schemas.FormValue{}, false
	}
	if field.Name != "" {
		if v, ok := data.Get(field.Name); ok {
			return v, true
		}
	}
	if field.ID != "" {
		if v, ok := data.Get(field.ID); ok {
			return v, true
		}
	}
	if field.Purpose != "" {
		if v, ok := data.Get(string(field.Purpose)); ok {
			return v, true
		}
	}

	ident := field.Name
	if ident == "" {
		ident = field.ID
	}
	ident = strings.ToLower(ident)
	if ident == "" {
		return schemas.FormValue{}, false
	}
	for _, key := range data.Keys() {
		if key == "" {
			continue
		}
		if strings.Contains(ident, strings.ToLower(key)) {
			v, _ := data.Get(key)
			return v, true
		}
	}
	return schemas.FormValue{}, false
}
