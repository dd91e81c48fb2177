package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompileSchema compiles schemaJSON once so callers validating many payloads
// against the same contract do not recompile it per call.
func CompileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema %s: %w", name, err)
	}
	return sch, nil
}

// Validate checks a raw JSON document against a compiled schema and returns
// the decoded document.
func Validate(sch *jsonschema.Schema, dataJSON []byte) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(dataJSON, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON data: %w", err)
	}
	if err := sch.Validate(data); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return nil, fmt.Errorf("JSON data failed validation against schema: %v", validationErr)
		}
		return nil, fmt.Errorf("JSON data failed validation (unexpected error type): %w", err)
	}
	return data, nil
}
