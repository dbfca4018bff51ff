package schemas

// -- Form Field Schemas --

// Purpose is the inferred semantic role of a detected form field.
type Purpose string

const (
	PurposeEmail     Purpose = "email"
	PurposeFirstName Purpose = "firstName"
	PurposeLastName  Purpose = "lastName"
	PurposeFullName  Purpose = "fullName"
	PurposePhone     Purpose = "phone"
	PurposeAddress   Purpose = "address"
	PurposeCity      Purpose = "city"
	PurposeState     Purpose = "state"
	PurposeZip       Purpose = "zip"
	PurposeCountry   Purpose = "country"
	PurposeDate      Purpose = "date"
	PurposeURL       Purpose = "url"
	PurposeMessage   Purpose = "message"
	PurposeText      Purpose = "text"
)

// DetectedField describes one interactive element found during a page scan.
// It is recomputed on every fill and never persisted.
type DetectedField struct {
	Tag         string  `json:"tag"`
	Type        string  `json:"type"`
	Name        string  `json:"name,omitempty"`
	ID          string  `json:"id,omitempty"`
	Placeholder string  `json:"placeholder,omitempty"`
	Required    bool    `json:"required"`
	Value       string  `json:"value,omitempty"`
	Checked     bool    `json:"checked,omitempty"`
	Selector    string  `json:"selector"`
	Purpose     Purpose `json:"purpose"`
}

// Label returns the most human-meaningful identifier for logs and results.
func (f DetectedField) Label() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.ID != "":
		return f.ID
	default:
		return f.Selector
	}
}
