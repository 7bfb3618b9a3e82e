package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://genesis.local/schemas/"

// Validator checks push payloads against the embedded per-event schemas.
type Validator struct {
	byEvent map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".schema.json") {
			continue
		}
		b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}

	v := &Validator{byEvent: map[string]*jsonschema.Schema{}}
	for _, name := range names {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.byEvent[strings.TrimSuffix(name, ".schema.json")] = s
	}
	return v, nil
}

// Validate returns nil for events without a schema.
func (v *Validator) Validate(env Envelope) error {
	if v == nil {
		return nil
	}
	s := v.byEvent[env.Type]
	if s == nil {
		return nil
	}
	var doc any
	if len(bytes.TrimSpace(env.Data)) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(env.Data, &doc); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
