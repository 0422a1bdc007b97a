// Package snapshot decodes and validates config snapshot documents before they are published.
package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"experiment-test-service/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "schema://config-snapshot.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Format is the encoding of a snapshot document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf guesses the format from a file extension; anything but .json is YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Document is a decoded snapshot together with its generic JSON form, which is
// what the schema validates.
type Document struct {
	Raw      any
	Snapshot domain.ConfigSnapshot
}

// Decode reads a YAML or JSON snapshot document. YAML is normalized to JSON first
// so both formats go through the same schema and struct tags.
func Decode(data []byte, format Format) (Document, error) {
	if format == FormatYAML {
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return Document{}, &domain.ConfigurationError{Reason: fmt.Sprintf("parse yaml: %v", err)}
		}
		normalized, err := json.Marshal(tree)
		if err != nil {
			return Document{}, &domain.ConfigurationError{Reason: fmt.Sprintf("normalize yaml: %v", err)}
		}
		data = normalized
	}

	raw, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Document{}, &domain.ConfigurationError{Reason: fmt.Sprintf("parse json: %v", err)}
	}
	var s domain.ConfigSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Document{}, &domain.ConfigurationError{Reason: fmt.Sprintf("decode snapshot: %v", err)}
	}
	return Document{Raw: raw, Snapshot: s}, nil
}

// Validate checks the document shape against the embedded schema, then the
// structural invariants of the snapshot.
func Validate(doc Document) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile snapshot schema: %w", err)
	}
	if err := schema.Validate(doc.Raw); err != nil {
		return &domain.ConfigurationError{Path: "schema", Reason: err.Error()}
	}
	return domain.ValidateSnapshot(doc.Snapshot)
}

// Parse decodes and validates a snapshot document.
func Parse(data []byte, format Format) (domain.ConfigSnapshot, error) {
	doc, err := Decode(data, format)
	if err != nil {
		return domain.ConfigSnapshot{}, err
	}
	if err := Validate(doc); err != nil {
		return domain.ConfigSnapshot{}, err
	}
	return doc.Snapshot, nil
}

// LoadFile reads, decodes and validates a snapshot file.
func LoadFile(path string) (domain.ConfigSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ConfigSnapshot{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return Parse(data, FormatOf(path))
}

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		def, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, def); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}
