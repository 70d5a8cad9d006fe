package services

import (
	"fmt"

	"github.com/pipeflow/automation/pkg/models"
)

// validateStepGraph checks that the steps form a graph the executor can walk:
// unique ids and positions, successors that exist, both branches on every
// condition, and no step unreachable from the entry step. Cycles are
// allowed; the executor bounds them at run time.
func validateStepGraph(workflow *models.Workflow) error {
	if len(workflow.Steps) == 0 {
		return fmt.Errorf("%w: workflow must have at least one step", ErrInvalidStepGraph)
	}

	byID := make(map[string]*models.Step, len(workflow.Steps))
	positions := make(map[int]string, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step without id", ErrInvalidStepGraph)
		}

		if _, ok := byID[step.ID]; ok {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidStepGraph, step.ID)
		}

		if other, ok := positions[step.Position]; ok {
			return fmt.Errorf("%w: steps %q and %q share position %d", ErrInvalidStepGraph, other, step.ID, step.Position)
		}

		byID[step.ID] = step
		positions[step.Position] = step.ID
	}

	for _, step := range workflow.Steps {
		err := validateSuccessors(step)
		if err != nil {
			return err
		}

		for _, next := range step.Successors() {
			if _, ok := byID[next]; !ok {
				return fmt.Errorf("%w: step %q points to unknown step %q", ErrInvalidStepGraph, step.ID, next)
			}
		}
	}

	reached := map[string]bool{}
	queue := []string{workflow.FirstStep().ID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if reached[id] {
			continue
		}

		reached[id] = true
		queue = append(queue, byID[id].Successors()...)
	}

	for _, step := range workflow.Steps {
		if !reached[step.ID] {
			return fmt.Errorf("%w: step %q is unreachable", ErrInvalidStepGraph, step.ID)
		}
	}

	return nil
}

func validateSuccessors(step *models.Step) error {
	if step.Type == models.StepCondition {
		if step.TrueStepID == "" || step.FalseStepID == "" {
			return fmt.Errorf("%w: condition %q needs both true_step_id and false_step_id", ErrInvalidStepGraph, step.ID)
		}

		if step.NextStepID != "" {
			return fmt.Errorf("%w: condition %q cannot have next_step_id", ErrInvalidStepGraph, step.ID)
		}

		return nil
	}

	if step.TrueStepID != "" || step.FalseStepID != "" {
		return fmt.Errorf("%w: only condition steps can branch, step %q", ErrInvalidStepGraph, step.ID)
	}

	return nil
}
