// internal/forms/detect.go
package forms

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/browser"
)

// cssIdent matches ids usable verbatim in a "#id" selector.
var cssIdent = regexp.MustCompile(`^-?[A-Za-z_][A-Za-z0-9_-]*$`)

var skippedInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"image":  true,
	"reset":  true,
}

// Detect scans the page for fillable fields in document order.
func Detect(ctx context.Context, page browser.Page) ([]schemas.DetectedField, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	return DetectHTML(html)
}

// DetectHTML is Detect over an already captured document.
func DetectHTML(html string) ([]schemas.DetectedField, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	fields := []schemas.DetectedField{}
	doc.Find("input, textarea, select").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		typ := fieldType(tag, s)
		if tag == "input" && skippedInputTypes[typ] {
			return
		}
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}

		attrs := Attributes{
			Tag:          tag,
			Type:         typ,
			Name:         s.AttrOr("name", ""),
			ID:           s.AttrOr("id", ""),
			Placeholder:  s.AttrOr("placeholder", ""),
			Class:        s.AttrOr("class", ""),
			AriaLabel:    s.AttrOr("aria-label", ""),
			Autocomplete: s.AttrOr("autocomplete", ""),
		}
		_, required := s.Attr("required")
		_, checked := s.Attr("checked")

		fields = append(fields, schemas.DetectedField{
			Tag:         tag,
			Type:        typ,
			Name:        attrs.Name,
			ID:          attrs.ID,
			Placeholder: attrs.Placeholder,
			Required:    required,
			Value:       fieldValue(tag, s),
			Checked:     checked,
			Selector:    selectorFor(tag, attrs, s),
			Purpose:     Classify(attrs),
		})
	})
	return fields, nil
}

func fieldType(tag string, s *goquery.Selection) string {
	switch tag {
	case "textarea":
		return "textarea"
	case "select":
		return "select"
	}
	typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
	if typ == "" {
		return "text"
	}
	return typ
}

func fieldValue(tag string, s *goquery.Selection) string {
	switch tag {
	case "textarea":
		return s.Text()
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(opt.Text())
	}
	return s.AttrOr("value", "")
}

// selectorFor prefers #id, then tag[name="..."], then a structural path.
func selectorFor(tag string, a Attributes, s *goquery.Selection) string {
	if a.ID != "" && cssIdent.MatchString(a.ID) {
		return "#" + a.ID
	}
	if a.Name != "" {
		return fmt.Sprintf(`%s[name="%s"]`, tag, strings.ReplaceAll(a.Name, `"`, `\"`))
	}
	return structuralSelector(s)
}

// structuralSelector builds a child-combinator chain of nth-of-type steps
// from the nearest ancestor with a usable id, or from body. The chain
// matches exactly one element.
func structuralSelector(s *goquery.Selection) string {
	var steps []string
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		name := goquery.NodeName(cur)
		if name == "body" || name == "html" {
			steps = append(steps, "body")
			break
		}
		if id := cur.AttrOr("id", ""); cur != s && id != "" && cssIdent.MatchString(id) {
			steps = append(steps, "#"+id)
			break
		}
		n := cur.PrevAllFiltered(name).Length() + 1
		steps = append(steps, fmt.Sprintf("%s:nth-of-type(%d)", name, n))
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}
