// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	apperrors "github.com/soothill/tachometer-monitor/pkg/errors"
	"github.com/soothill/tachometer-monitor/pkg/util"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// ValidateWithSchema checks the raw configuration file against the embedded
// JSON schema. Unlike Load it sees the file before defaults and environment
// overrides are applied, so it catches misspelled keys.
//
//	if err := config.ValidateWithSchema("config.yaml"); err != nil {
//	    logger.Fatal().Err(err).Msg("Invalid configuration")
//	}
func ValidateWithSchema(configPath string) error {
	configData, err := util.ReadFileSafely(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return ValidateBytesWithSchema(configData)
}

// ValidateBytesWithSchema validates YAML (or JSON) content against the schema.
func ValidateBytesWithSchema(configData []byte) error {
	var configObj interface{}
	if err := yaml.Unmarshal(configData, &configObj); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if configObj == nil {
		configObj = map[string]interface{}{}
	}

	// yaml.v3 decodes mappings as map[string]interface{}, which encoding/json
	// accepts directly.
	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return fmt.Errorf("failed to convert config to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(configJSON),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		return formatValidationErrors(result.Errors())
	}
	return nil
}

// formatValidationErrors formats JSON schema validation errors into a readable message
func formatValidationErrors(errors []gojsonschema.ResultError) error {
	if len(errors) == 0 {
		return nil
	}

	msg := "configuration validation errors:\n"
	for i, err := range errors {
		msg += fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field(), err.Description())
	}

	return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, msg)
}

// GetSchemaJSON returns the embedded JSON schema.
func GetSchemaJSON() string {
	return string(schemaJSON)
}
