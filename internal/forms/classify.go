// internal/forms/classify.go
package forms

import (
	"strings"

	"github.com/xkilldash9x/formrunner/api/schemas"
)

// Attributes are the raw element attributes that feed classification.
type Attributes struct {
	Tag          string
	Type         string
	Name         string
	ID           string
	Placeholder  string
	Class        string
	AriaLabel    string
	Autocomplete string
}

// haystack joins the descriptive attributes into one lowercase string.
func (a Attributes) haystack() string {
	return strings.ToLower(strings.Join([]string{
		a.Name, a.ID, a.Placeholder, a.Class, a.AriaLabel, a.Autocomplete,
	}, " "))
}

type classifyRule struct {
	purpose schemas.Purpose
	match   func(a Attributes, hay string) bool
}

func containsAny(hay string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(hay, n) {
			return true
		}
	}
	return false
}

func typeIs(a Attributes, t string) bool { return strings.EqualFold(a.Type, t) }

// classifyRules is evaluated top to bottom and the first match wins. The
// order is the tie-break: "email" beats "name", and "firstname" beats the
// generic "name" rule.
var classifyRules = []classifyRule{
	{schemas.PurposeEmail, func(a Attributes, h string) bool {
		return typeIs(a, "email") || strings.Contains(h, "email")
	}},
	{schemas.PurposeFirstName, func(_ Attributes, h string) bool {
		return containsAny(h, "firstname", "first-name", "first_name", "fname")
	}},
	{schemas.PurposeLastName, func(_ Attributes, h string) bool {
		return containsAny(h, "lastname", "last-name", "last_name", "lname")
	}},
	{schemas.PurposeFullName, func(_ Attributes, h string) bool {
		return strings.Contains(h, "name") && !strings.Contains(h, "user")
	}},
	{schemas.PurposePhone, func(a Attributes, h string) bool {
		return typeIs(a, "tel") || containsAny(h, "phone", "tel")
	}},
	{schemas.PurposeAddress, func(_ Attributes, h string) bool {
		return strings.Contains(h, "address")
	}},
	{schemas.PurposeCity, func(_ Attributes, h string) bool {
		return strings.Contains(h, "city")
	}},
	{schemas.PurposeState, func(_ Attributes, h string) bool {
		return containsAny(h, "state", "province")
	}},
	{schemas.PurposeZip, func(_ Attributes, h string) bool {
		return containsAny(h, "zip", "postal")
	}},
	{schemas.PurposeCountry, func(_ Attributes, h string) bool {
		return strings.Contains(h, "country")
	}},
	{schemas.PurposeDate, func(a Attributes, h string) bool {
		return typeIs(a, "date") || containsAny(h, "date", "dob")
	}},
	{schemas.PurposeURL, func(a Attributes, h string) bool {
		return typeIs(a, "url") || containsAny(h, "website", "url")
	}},
	{schemas.PurposeMessage, func(a Attributes, h string) bool {
		return strings.EqualFold(a.Tag, "textarea") || containsAny(h, "message", "comment")
	}},
}

// Classify infers the semantic purpose of a field from its attributes.
func Classify(a Attributes) schemas.Purpose {
	hay := a.haystack()
	for _, r := range classifyRules {
		if r.match(a, hay) {
			return r.purpose
		}
	}
	return schemas.PurposeText
}
