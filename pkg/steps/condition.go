package steps

import (
	"context"
	"fmt"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/template"
)

type ConditionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

type condition struct {
	*configDecoder
}

// Execute renders the expression against the contact snapshot and follows
// exactly one branch. Evaluation errors are not retried.
func (h *condition) Execute(_ context.Context, in Input) Outcome {
	var config ConditionConfig

	err := h.decode(in.Step.Config, &config)
	if err != nil {
		return Fail(err, false)
	}

	rendered, err := template.Render(config.Expression, in.TemplateData())
	if err != nil {
		return Fail(fmt.Errorf("condition evaluation failed: %w", err), false)
	}

	matched, err := models.EvaluateCondition(rendered)
	if err != nil {
		return Fail(fmt.Errorf("condition evaluation failed: %w", err), false)
	}

	next := in.Step.FalseStepID
	if matched {
		next = in.Step.TrueStepID
	}

	return Advance(next, map[string]any{
		"condition_result": matched,
		"evaluated_value":  rendered,
		"branch":           next,
	})
}
