package extract

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema is the shape contract for oracle output: a documentDetails
// object plus an items array of objects. Field values stay loosely typed
// because the oracle mixes strings and numbers freely; strictness lives in
// the normalizer, not here.
const documentSchema = `{
	"type": "object",
	"properties": {
		"documentDetails": {"type": ["object", "null"]},
		"items": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`

var compiledDocumentSchema = jsonschema.MustCompileString("document.json", documentSchema)

// validateShape checks that data is valid JSON matching the coarse document
// shape. It rejects responses where items is not an array or the top level is
// not an object.
func validateShape(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return compiledDocumentSchema.Validate(v)
}
