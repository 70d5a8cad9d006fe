package models

import "slices"

// Contact is a read-only snapshot of a CRM contact, owned by the CRM service.
type Contact struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	PipelineID     string         `json:"pipeline_id"`
	StageID        string         `json:"stage_id"`
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Tags           []string       `json:"tags"`
	Fields         map[string]any `json:"fields,omitempty"`
	Deleted        bool           `json:"deleted"`
}

// HasTag reports whether the contact carries the tag.
func (c *Contact) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// TemplateData exposes the contact to step templates.
func (c *Contact) TemplateData() map[string]any {
	tags := make([]any, 0, len(c.Tags))
	for _, tag := range c.Tags {
		tags = append(tags, tag)
	}

	fields := c.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	return map[string]any{
		"id":          c.ID,
		"email":       c.Email,
		"first_name":  c.FirstName,
		"last_name":   c.LastName,
		"stage_id":    c.StageID,
		"pipeline_id": c.PipelineID,
		"tags":        tags,
		"fields":      fields,
	}
}
