package router

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/agentoven/successdesk/pkg/models"
	"github.com/kaptinlin/jsonschema"
)

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

var schemaCache sync.Map // schema JSON -> *jsonschema.Schema

// parseStructured fills resp.Structured from the model text (when the driver
// did not already) and validates it against schema.
func (mr *ModelRouter) parseStructured(schema map[string]interface{}, resp *models.InvokeResponse) error {
	if resp.Structured == nil {
		text := strings.TrimSpace(resp.Text)
		if m := codeFenceRe.FindStringSubmatch(text); m != nil {
			text = m[1]
		}
		if text == "" {
			return fmt.Errorf("empty response")
		}
		var value map[string]interface{}
		if err := json.Unmarshal([]byte(text), &value); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		resp.Structured = value
	}
	return validateJSONSchema(schema, resp.Structured)
}

// validateJSONSchema validates a decoded value against a JSON Schema.
func validateJSONSchema(schema map[string]interface{}, data interface{}) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	var compiled *jsonschema.Schema
	if cached, ok := schemaCache.Load(string(raw)); ok {
		compiled = cached.(*jsonschema.Schema)
	} else {
		compiled, err = jsonschema.NewCompiler().Compile(raw)
		if err != nil {
			return fmt.Errorf("invalid schema: %w", err)
		}
		schemaCache.Store(string(raw), compiled)
	}

	result := compiled.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}
