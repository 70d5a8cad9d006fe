package models

// EmailTemplate is a reusable email owned by the CRUD layer. Subject and Body
// are Go templates rendered against the step's template data.
type EmailTemplate struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}
