package steps

import (
	"context"
	"fmt"

	"github.com/pipeflow/automation/pkg/crm"
	"github.com/pipeflow/automation/pkg/template"
)

type MoveStageConfig struct {
	StageID string `json:"stage_id" validate:"required"`
}

type TagConfig struct {
	Tag string `json:"tag" validate:"required"`
}

type moveStage struct {
	*configDecoder
	crm crm.Client
}

func (h *moveStage) Execute(ctx context.Context, in Input) Outcome {
	var config MoveStageConfig

	err := h.decode(in.Step.Config, &config)
	if err != nil {
		return Fail(err, false)
	}

	err = h.crm.MoveStage(ctx, in.Run.OrganizationID, in.Run.ContactID, config.StageID)
	if err != nil {
		return Fail(err, crm.IsRetryable(err))
	}

	return Advance(in.Step.NextStepID, map[string]any{
		"stage_id":          config.StageID,
		"previous_stage_id": in.Contact.StageID,
	})
}

// tagMutation adds or removes a tag depending on add.
type tagMutation struct {
	*configDecoder
	crm crm.Client
	add bool
}

func (h *tagMutation) Execute(ctx context.Context, in Input) Outcome {
	var config TagConfig

	err := h.decode(in.Step.Config, &config)
	if err != nil {
		return Fail(err, false)
	}

	tag, err := template.RenderString(config.Tag, in.TemplateData())
	if err != nil {
		return Fail(fmt.Errorf("failed to render tag: %w", err), false)
	}

	if h.add {
		err = h.crm.AddTag(ctx, in.Run.OrganizationID, in.Run.ContactID, tag)
	} else {
		err = h.crm.RemoveTag(ctx, in.Run.OrganizationID, in.Run.ContactID, tag)
	}

	if err != nil {
		return Fail(err, crm.IsRetryable(err))
	}

	return Advance(in.Step.NextStepID, map[string]any{"tag": tag})
}
