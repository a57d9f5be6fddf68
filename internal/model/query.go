package model

// ParsedQuery is the structured intent extracted from one free-text question.
// Absent fields mean "not mentioned", never zero.
type ParsedQuery struct {
	Raw                  string   `json:"raw"`
	Age                  *int     `json:"age,omitempty"`
	Procedure            *string  `json:"procedure,omitempty"`
	Location             *string  `json:"location,omitempty"`
	PolicyDurationMonths *int     `json:"policy_duration_months,omitempty"`
	ExtractedEntities    []string `json:"extracted_entities"`
}

// HasDuration reports whether a policy duration was extracted.
func (p ParsedQuery) HasDuration() bool {
	return p.PolicyDurationMonths != nil
}

// ProcedureText returns the extracted procedure or "".
func (p ParsedQuery) ProcedureText() string {
	if p.Procedure == nil {
		return ""
	}
	return *p.Procedure
}
