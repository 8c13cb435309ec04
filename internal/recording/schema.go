package recording

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce   sync.Once
	schemaErr    error
	headerSchema = &lazySchema{file: "schema/header.schema.json"}
	eventSchema  = &lazySchema{file: "schema/event.schema.json"}
)

type lazySchema struct {
	file   string
	schema *jsonschema.Schema
}

func compileSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, s := range []*lazySchema{headerSchema, eventSchema} {
			data, err := schemaFS.ReadFile(s.file)
			if err != nil {
				schemaErr = fmt.Errorf("read %s: %w", s.file, err)
				return
			}
			if err := compiler.AddResource(s.file, bytes.NewReader(data)); err != nil {
				schemaErr = fmt.Errorf("add schema resource %s: %w", s.file, err)
				return
			}
		}
		for _, s := range []*lazySchema{headerSchema, eventSchema} {
			compiled, err := compiler.Compile(s.file)
			if err != nil {
				schemaErr = fmt.Errorf("compile %s: %w", s.file, err)
				return
			}
			s.schema = compiled
		}
	})
	return schemaErr
}

// validateLine checks one JSON line against s.
func validateLine(s *lazySchema, raw []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	if err := s.schema.Validate(v); err != nil {
		return err
	}
	return nil
}

// Schema returns the embedded JSON schema for the named line type
// ("header" or "event").
func Schema(name string) ([]byte, error) {
	return schemaFS.ReadFile("schema/" + name + ".schema.json")
}
