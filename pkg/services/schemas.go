package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/steps"
	"github.com/xeipuuv/gojsonschema"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

func stringProperty(minLength int) map[string]any {
	return map[string]any{"type": "string", "minLength": minLength}
}

// stepConfigSchemas describes the config object accepted by each step type.
var stepConfigSchemas = map[models.StepType]map[string]any{
	models.StepSendEmail: {
		"$schema": draft07,
		"type":    "object",
		"anyOf": []any{
			map[string]any{"required": []any{"template_id"}},
			map[string]any{"required": []any{"subject", "body"}},
		},
		"properties": map[string]any{
			"template_id": stringProperty(1),
			"subject":     stringProperty(1),
			"body":        stringProperty(1),
			"to":          stringProperty(0),
			"from":        stringProperty(0),
		},
		"additionalProperties": false,
	},
	models.StepMoveStage: {
		"$schema":              draft07,
		"type":                 "object",
		"required":             []any{"stage_id"},
		"properties":           map[string]any{"stage_id": stringProperty(1)},
		"additionalProperties": false,
	},
	models.StepAddTag: {
		"$schema":              draft07,
		"type":                 "object",
		"required":             []any{"tag"},
		"properties":           map[string]any{"tag": stringProperty(1)},
		"additionalProperties": false,
	},
	models.StepRemoveTag: {
		"$schema":              draft07,
		"type":                 "object",
		"required":             []any{"tag"},
		"properties":           map[string]any{"tag": stringProperty(1)},
		"additionalProperties": false,
	},
	models.StepCondition: {
		"$schema":              draft07,
		"type":                 "object",
		"required":             []any{"expression"},
		"properties":           map[string]any{"expression": stringProperty(1)},
		"additionalProperties": false,
	},
	models.StepDelay: {
		"$schema": draft07,
		"type":    "object",
		"properties": map[string]any{
			"duration": stringProperty(1),
			"seconds":  map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
		"oneOf": []any{
			map[string]any{"required": []any{"duration"}},
			map[string]any{"required": []any{"seconds"}},
		},
		"additionalProperties": false,
	},
	models.StepWebhook: {
		"$schema":  draft07,
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "pattern": "^https?://"},
			"method": map[string]any{"enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"}},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body":            map[string]any{"type": "string"},
			"timeout_seconds": map[string]any{"type": "integer", "minimum": 1, "maximum": 30},
		},
		"additionalProperties": false,
	},
}

// validateStepConfig checks a step's config against the schema of its type.
func validateStepConfig(step *models.Step) error {
	schema, ok := stepConfigSchemas[step.Type]
	if !ok {
		return fmt.Errorf("%w: step %s has unknown type %q", ErrInvalidStepConfig, step.ID, step.Type)
	}

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: step %s: %w", ErrInvalidStepConfig, step.ID, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: step %s: %s", ErrInvalidStepConfig, step.ID, strings.Join(problems, "; "))
	}

	if step.Type == models.StepDelay {
		return validateDelay(step)
	}

	return nil
}

// validateDelay rejects durations the delay handler would fail on at run time.
func validateDelay(step *models.Step) error {
	data, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("%w: step %s: %w", ErrInvalidStepConfig, step.ID, err)
	}

	var config steps.DelayConfig

	err = json.Unmarshal(data, &config)
	if err != nil {
		return fmt.Errorf("%w: step %s: %w", ErrInvalidStepConfig, step.ID, err)
	}

	_, err = config.Parse()
	if err != nil {
		return fmt.Errorf("%w: step %s: %w", ErrInvalidStepConfig, step.ID, err)
	}

	return nil
}
