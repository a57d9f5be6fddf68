package server

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
)

var hackrxSchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []string{"documents", "questions"},
	"properties": map[string]any{
		"documents": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "string", "minLength": 1},
		},
		"questions": map[string]any{
			"type":     "array",
			"minItems": 1,
			"maxItems": 100,
			"items":    map[string]any{"type": "string", "pattern": `\S`},
		},
	},
})

// Documents may be empty here so the pipeline reports the missing-documents
// input error itself.
var analyzeSchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []string{"query", "documents"},
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
		"documents": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"webhook_url": map[string]any{"type": "string"},
	},
})

// validateBody checks body against schema and returns a single readable
// error listing every violation.
func validateBody(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return eris.Wrap(err, "invalid JSON body")
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return eris.Errorf("request validation failed: %s", strings.Join(errs, ", "))
}
