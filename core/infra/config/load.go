package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cyqddx/shuyuan/core/infra/schema"
)

// Load reads, schema-checks, parses, and validates the configuration
// source. Startup calls this once; a failure here is fatal to the
// process. The Watcher calls it again for every candidate reload.
func Load(path string) (*Snapshot, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	snap, err := ParseAndValidate(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return snap, nil
}

// ParseAndValidate builds a candidate snapshot from raw YAML bytes. The
// candidate passes the embedded JSON schema first, then semantic checks.
func ParseAndValidate(data []byte) (*Snapshot, error) {
	if err := validateSnapshotSchema(data); err != nil {
		return nil, err
	}
	snap, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return snap, nil
}

func validateSnapshotSchema(data []byte) error {
	if len(data) == 0 {
		return errors.New("config is empty")
	}
	schemaBytes, err := configSchemaFS.ReadFile(snapshotSchemaFile)
	if err != nil {
		return fmt.Errorf("load snapshot schema: %w", err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := schema.Validate("snapshot", schemaBytes, payload); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
