package corpus

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/policy-qa/internal/model"
)

const (
	defaultSection  = "General"
	minClauseChars  = 25
	maxClauseChars  = 1200
	maxHeadingWords = 8
)

var (
	numberedHeadingRe = regexp.MustCompile(`(?i)^(?:section\s+)?\d+(?:\.\d+)*[.)]?\s+(.+)$`)
	sentenceRe        = regexp.MustCompile(`[^.!?]+[.!?]+["')\]]*\s*`)
	spaceRe           = regexp.MustCompile(`\s+`)
	titleCaser        = cases.Title(language.English)
)

// Segment splits plain document text into passages. Blank lines separate
// paragraphs; short heading-like lines start a new section.
func Segment(text string, page *int) []Passage {
	var (
		out     []Passage
		section = defaultSection
		para    []string
	)

	flush := func() {
		if len(para) == 0 {
			return
		}
		content := spaceRe.ReplaceAllString(strings.Join(para, " "), " ")
		content = strings.TrimSpace(content)
		para = para[:0]
		if len(content) < minClauseChars {
			return
		}
		for _, chunk := range splitLong(content) {
			out = append(out, Passage{
				Content:     chunk,
				Section:     section,
				Page:        page,
				SectionType: classify(section, chunk),
			})
		}
	}

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}
		if heading, ok := asHeading(line); ok {
			flush()
			section = heading
			continue
		}
		para = append(para, line)
	}
	flush()

	return out
}

// asHeading reports whether line looks like a section heading and returns
// its canonical label.
func asHeading(line string) (string, bool) {
	trimmed := strings.TrimSuffix(line, ":")
	if m := numberedHeadingRe.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	} else if strings.HasSuffix(line, ".") {
		return "", false
	}

	words := strings.Fields(trimmed)
	if len(words) == 0 || len(words) > maxHeadingWords {
		return "", false
	}
	if strings.ContainsAny(trimmed, ".,;") {
		return "", false
	}

	if isUpper(trimmed) {
		return titleCaser.String(strings.ToLower(trimmed)), true
	}
	if isTitle(words) && (strings.HasSuffix(line, ":") || numberedHeadingRe.MatchString(line)) {
		return trimmed, true
	}
	return "", false
}

func isUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters > 1
}

func isTitle(words []string) bool {
	for _, w := range words {
		r := []rune(w)
		if unicode.IsLetter(r[0]) && !unicode.IsUpper(r[0]) && len(r) > 3 {
			return false
		}
	}
	return true
}

// splitLong breaks content longer than maxClauseChars on sentence boundaries.
func splitLong(content string) []string {
	if len(content) <= maxClauseChars {
		return []string{content}
	}
	sentences := sentenceRe.FindAllString(content, -1)
	if len(sentences) == 0 {
		return []string{content}
	}
	consumed := 0
	for _, s := range sentences {
		consumed += len(s)
	}
	if consumed < len(content) {
		sentences = append(sentences, content[consumed:])
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+len(s) > maxClauseChars {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(s)
	}
	if tail := strings.TrimSpace(cur.String()); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// classify assigns a section type from the section label and content.
func classify(section, content string) string {
	s := strings.ToLower(section + " " + content)
	switch {
	case strings.Contains(s, "exclu"), strings.Contains(s, "not covered"), strings.Contains(s, "pre-existing"):
		return model.SectionExclusions
	case strings.Contains(s, "benefit"), strings.Contains(s, "covered"), strings.Contains(s, "reimburse"):
		return model.SectionBenefits
	}
	return model.SectionTerms
}
