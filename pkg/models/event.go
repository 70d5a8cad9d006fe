package models

import (
	"strings"
	"time"
)

// Event is an immutable pipeline occurrence emitted by the CRUD layer.
type Event struct {
	ID             string         `json:"id"`
	Type           TriggerType    `json:"type"            validate:"required,oneof=contact_created stage_changed tag_added tag_removed form_submitted"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	PipelineID     string         `json:"pipeline_id"     validate:"required"`
	ContactID      string         `json:"contact_id"      validate:"required"`
	PerformedBy    string         `json:"performed_by,omitempty"`
	SourceID       string         `json:"source_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// DedupKey identifies the originating operation of the event for one workflow
// and contact pair. Redelivery of the same operation yields the same key.
func (e *Event) DedupKey() string {
	return string(e.Type) + ":" + e.SourceID
}

// Lookup resolves a dotted field path against the event. Top-level names
// address envelope fields; "data.x.y" walks the payload.
func (e *Event) Lookup(path string) (any, bool) {
	head, rest, _ := strings.Cut(path, ".")

	switch head {
	case "type":
		return string(e.Type), true
	case "organization_id":
		return e.OrganizationID, true
	case "pipeline_id":
		return e.PipelineID, true
	case "contact_id":
		return e.ContactID, true
	case "performed_by":
		return e.PerformedBy, e.PerformedBy != ""
	case "source_id":
		return e.SourceID, e.SourceID != ""
	case "data":
		if rest == "" {
			return e.Data, e.Data != nil
		}

		return lookupPath(e.Data, rest)
	default:
		return lookupPath(e.Data, path)
	}
}

func lookupPath(data map[string]any, path string) (any, bool) {
	var current any = data

	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// TemplateData exposes the event to step templates.
func (e *Event) TemplateData() map[string]any {
	return map[string]any{
		"id":              e.ID,
		"type":            string(e.Type),
		"organization_id": e.OrganizationID,
		"pipeline_id":     e.PipelineID,
		"contact_id":      e.ContactID,
		"performed_by":    e.PerformedBy,
		"source_id":       e.SourceID,
		"data":            e.Data,
		"occurred_at":     e.OccurredAt,
	}
}
