// SPDX-License-Identifier: Apache-2.0

package model

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// tagSchemaFile maps each manifest top-level tag to the JSON Schema file
// that validates its value object.
var tagSchemaFile = map[string]string{
	"cluster":    "cluster.schema.json",
	"schemas":    "schemas.schema.json",
	"schema":     "schema.schema.json",
	"init":       "fragment_only.schema.json",
	"late":       "fragment_only.schema.json",
	"safeguard":  "fragment_only.schema.json",
	"settings":   "settings.schema.json",
	"migration":  "migration.schema.json",
	"migrations": "container_only.schema.json",
	"upgrade":    "upgrade.schema.json",
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()

		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			compileErr = err
			return
		}

		for _, e := range entries {
			data, err := schemaFS.ReadFile("schemas/" + e.Name())
			if err != nil {
				compileErr = err
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				compileErr = fmt.Errorf("parsing embedded schema %s: %w", e.Name(), err)
				return
			}
			if err := c.AddResource(e.Name(), doc); err != nil {
				compileErr = fmt.Errorf("registering embedded schema %s: %w", e.Name(), err)
				return
			}
		}

		compiled = make(map[string]*jsonschema.Schema, len(tagSchemaFile))
		for tag, file := range tagSchemaFile {
			sch, err := c.Compile(file)
			if err != nil {
				compileErr = fmt.Errorf("compiling schema for tag %q: %w", tag, err)
				return
			}
			compiled[tag] = sch
		}
	})
	return compiled, compileErr
}

// validateTagValue validates the decoded JSON value of a manifest's
// top-level tag against its JSON Schema, returning a ManifestError on any
// schema violation (unknown key, missing required field, wrong type).
func validateTagValue(path, tag string, value any) error {
	schemas, err := compileSchemas()
	if err != nil {
		return fmt.Errorf("internal: %w", err)
	}

	sch, ok := schemas[tag]
	if !ok {
		return ManifestError{Path: path, Reason: fmt.Sprintf("unknown manifest tag %q", tag)}
	}

	if err := sch.Validate(value); err != nil {
		return ManifestError{Path: path, Reason: err.Error()}
	}
	return nil
}
