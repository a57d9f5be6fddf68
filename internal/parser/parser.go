// Package parser turns free-text policy questions into structured intent.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/policy-qa/internal/model"
)

// Extractor converts a question into a ParsedQuery. Implementations must be
// pure and total: a missed field is left unset, never reported as an error.
type Extractor interface {
	Parse(text string) model.ParsedQuery
}

// Default is the extractor used by Parse.
var Default Extractor = NewRegexExtractor()

// Parse extracts intent from query with the default extractor.
func Parse(query string) model.ParsedQuery {
	return Default.Parse(query)
}

var (
	ageRe       = regexp.MustCompile(`(?i)(\d+)\s*[- ]?year`)
	procedureRe = regexp.MustCompile(`(?i)\b(surgery|procedure|treatment|operation)\b`)
	locationRe  = regexp.MustCompile(`\b[Ii]n\s+([A-Z][a-zA-Z]*(?:[ \t]+[A-Z][a-zA-Z]*)*)`)
	durationRe  = regexp.MustCompile(`(?i)(\d+)[\s-]?(month|year)s?\s+(old|ago)`)
)

// clauseBreaks end a procedure phrase.
const clauseBreaks = ",.;:!?()"

// maxModifierWords caps how many words before the keyword are taken as the
// procedure subject ("total knee replacement surgery").
const maxModifierWords = 3

// linkWords may sit between the keyword and its subject ("surgery for ...").
var linkWords = map[string]bool{"on": true, "for": true, "of": true}

// articles are skipped at the start of a subject phrase.
var articles = map[string]bool{"the": true, "a": true, "an": true}

// stopWords terminate a procedure phrase.
var stopWords = map[string]bool{
	"in": true, "at": true, "from": true, "since": true, "after": true, "with": true, "under": true,
	"during": true, "before": true, "within": true, "to": true, "and": true, "or": true, "but": true,
	"on": true, "for": true, "of": true, "by": true, "about": true, "regarding": true, "any": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "can": true, "could": true,
	"should": true, "may": true, "might": true, "must": true,
	"what": true, "which": true, "who": true, "whom": true, "when": true, "where": true, "how": true,
	"why": true, "that": true, "this": true, "these": true, "those": true, "it": true,
	"i": true, "we": true, "he": true, "she": true, "they": true, "you": true, "me": true, "him": true,
	"the": true, "a": true, "an": true, "my": true, "his": true, "her": true, "their": true, "our": true, "your": true,
	"covered": true, "cover": true, "covers": true, "coverage": true, "claim": true, "claims": true,
	"get": true, "need": true, "needs": true, "needed": true, "undergo": true, "underwent": true,
	"had": true, "has": true, "have": true, "having": true, "planned": true, "plan": true,
	"policy": true, "male": true, "female": true, "old": true, "ago": true,
	"year": true, "years": true, "month": true, "months": true,
}

// RegexExtractor extracts fields with regular expressions and a small
// stop-word heuristic for procedure phrases.
type RegexExtractor struct{}

// NewRegexExtractor returns the regex-based Extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Parse implements Extractor. Fields are extracted independently and
// reported in extracted_entities in the order age, procedure, location,
// duration.
func (e *RegexExtractor) Parse(text string) model.ParsedQuery {
	parsed := model.ParsedQuery{
		Raw:               text,
		ExtractedEntities: []string{},
	}

	if age, ok := extractAge(text); ok {
		parsed.Age = &age
		parsed.ExtractedEntities = append(parsed.ExtractedEntities, fmt.Sprintf("age: %d", age))
	}
	if proc, ok := extractProcedure(text); ok {
		parsed.Procedure = &proc
		parsed.ExtractedEntities = append(parsed.ExtractedEntities, "procedure: "+proc)
	}
	if loc, ok := extractLocation(text); ok {
		parsed.Location = &loc
		parsed.ExtractedEntities = append(parsed.ExtractedEntities, "location: "+loc)
	}
	if months, ok := extractDurationMonths(text); ok {
		parsed.PolicyDurationMonths = &months
		parsed.ExtractedEntities = append(parsed.ExtractedEntities, fmt.Sprintf("policy_duration: %d months", months))
	}

	return parsed
}

func extractAge(text string) (int, bool) {
	m := ageRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	age, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return age, true
}

func extractLocation(text string) (string, bool) {
	m := locationRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	loc := strings.TrimSpace(m[1])
	return loc, loc != ""
}

func extractDurationMonths(text string) (int, bool) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "year") {
		return value * 12, true
	}
	return value, true
}

// extractProcedure finds the first procedure keyword. The subject that
// follows it ("surgery for knee replacement") wins; otherwise the modifiers
// preceding it in the same clause are joined with the keyword ("knee
// replacement surgery").
func extractProcedure(text string) (string, bool) {
	loc := procedureRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", false
	}
	keyword := text[loc[2]:loc[3]]

	if after := phraseAfter(text[loc[1]:]); after != "" {
		return after, true
	}
	if before := phraseBefore(text[:loc[0]]); before != "" {
		return before + " " + keyword, true
	}
	return keyword, true
}

func phraseAfter(rest string) string {
	if i := strings.IndexAny(rest, clauseBreaks); i >= 0 {
		rest = rest[:i]
	}
	words := strings.Fields(rest)
	if len(words) > 0 && linkWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	for len(words) > 0 && articles[strings.ToLower(words[0])] {
		words = words[1:]
	}

	var out []string
	for _, w := range words {
		if stopWords[strings.ToLower(w)] {
			break
		}
		out = append(out, w)
	}
	return strings.TrimSpace(strings.Join(out, " "))
}

func phraseBefore(head string) string {
	if i := strings.LastIndexAny(head, clauseBreaks); i >= 0 {
		head = head[i+1:]
	}
	words := strings.Fields(head)

	var out []string
	for i := len(words) - 1; i >= 0 && len(out) < maxModifierWords; i-- {
		w := words[i]
		if stopWords[strings.ToLower(w)] || strings.ContainsAny(w, "0123456789") {
			break
		}
		out = append([]string{w}, out...)
	}
	return strings.Join(out, " ")
}
