package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentTail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref  string
		want string
	}{
		{"https://example.com/docs/policy.pdf", "policy.pdf"},
		{"policy.pdf", "policy.pdf"},
		{"https://example.com/docs/", "docs"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DocumentTail(tt.ref), tt.ref)
	}
}

func TestClauseIDFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "policy.pdf::3", ClauseIDFor("policy.pdf", 3))
}

func TestClauseUnscored(t *testing.T) {
	t.Parallel()

	c := Clause{ClauseID: "a::1", RelevanceScore: 0.8}
	u := c.Unscored()
	assert.Zero(t, u.RelevanceScore)
	assert.InDelta(t, 0.8, c.RelevanceScore, 1e-9)
}

func TestClauseIDs(t *testing.T) {
	t.Parallel()

	clauses := []Clause{{ClauseID: "a::1"}, {ClauseID: "a::2"}}
	assert.Equal(t, []string{"a::1"}, ClauseIDs(clauses, 1))
	assert.Equal(t, []string{"a::1", "a::2"}, ClauseIDs(clauses, 3))
	assert.Empty(t, ClauseIDs(nil, 3))
}
