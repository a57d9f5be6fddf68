package model

import (
	"fmt"
	"strings"
)

// Clause is the atomic retrievable unit of a policy document.
type Clause struct {
	ClauseID       string         `json:"clause_id"`
	Content        string         `json:"content"`
	Section        string         `json:"section"`
	RelevanceScore float64        `json:"relevance_score"`
	Metadata       ClauseMetadata `json:"metadata"`
}

// ClauseMetadata records where a clause came from.
type ClauseMetadata struct {
	Document    string `json:"document"`
	Page        *int   `json:"page,omitempty"`
	SectionType string `json:"section_type"`
}

// Section types assigned to clauses.
const (
	SectionBenefits   = "benefits"
	SectionExclusions = "exclusions"
	SectionTerms      = "terms"
)

// DocumentTail returns the last path segment of a document reference.
// "https://x.test/docs/policy.pdf" → "policy.pdf".
func DocumentTail(ref string) string {
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// ClauseIDFor builds the "<document-tail>::<index>" identifier.
func ClauseIDFor(tail string, index int) string {
	return fmt.Sprintf("%s::%d", tail, index)
}

// Unscored returns a copy of the clause with its per-query relevance score cleared.
func (c Clause) Unscored() Clause {
	c.RelevanceScore = 0
	return c
}

// ClauseIDs returns the identifiers of the first n clauses (all if n exceeds len).
func ClauseIDs(clauses []Clause, n int) []string {
	if n > len(clauses) {
		n = len(clauses)
	}
	ids := make([]string, 0, n)
	for _, c := range clauses[:n] {
		ids = append(ids, c.ClauseID)
	}
	return ids
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
