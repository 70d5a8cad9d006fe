package crm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/pipeflow/automation/pkg/models"
)

// MemoryClient keeps contacts in process. The worker falls back to it when
// no CRM endpoint is configured; tests use it as the CRUD layer.
type MemoryClient struct {
	mu        sync.RWMutex
	contacts  map[string]*models.Contact
	templates map[string]models.EmailTemplate
	stages    map[string]struct{}
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		contacts:  make(map[string]*models.Contact),
		templates: make(map[string]models.EmailTemplate),
	}
}

func memoryKey(organizationID, contactID string) string {
	return organizationID + "/" + contactID
}

// Put stores a copy of the contact.
func (m *MemoryClient) Put(contact *models.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.contacts[memoryKey(contact.OrganizationID, contact.ID)] = cloneContact(contact)
}

// PutTemplate stores a copy of the email template.
func (m *MemoryClient) PutTemplate(tmpl *models.EmailTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.templates[memoryKey(tmpl.OrganizationID, tmpl.ID)] = *tmpl
}

func (m *MemoryClient) GetEmailTemplate(_ context.Context, organizationID, templateID string) (*models.EmailTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tmpl, ok := m.templates[memoryKey(organizationID, templateID)]
	if !ok {
		return nil, fmt.Errorf("failed to get email template %s: %w", templateID, ErrNotFound)
	}

	return &tmpl, nil
}

// Delete marks the contact as deleted.
func (m *MemoryClient) Delete(organizationID, contactID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if contact, ok := m.contacts[memoryKey(organizationID, contactID)]; ok {
		contact.Deleted = true
	}
}

// RestrictStages limits MoveStage to the given stage ids.
func (m *MemoryClient) RestrictStages(stageIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stages = make(map[string]struct{}, len(stageIDs))
	for _, id := range stageIDs {
		m.stages[id] = struct{}{}
	}
}

func (m *MemoryClient) GetContact(_ context.Context, organizationID, contactID string) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contact, ok := m.contacts[memoryKey(organizationID, contactID)]
	if !ok {
		return nil, &Error{Op: "GetContact", ContactID: contactID, Err: ErrNotFound}
	}

	return cloneContact(contact), nil
}

func (m *MemoryClient) MoveStage(_ context.Context, organizationID, contactID, stageID string) error {
	return m.mutate("MoveStage", organizationID, contactID, func(contact *models.Contact) error {
		if m.stages != nil {
			if _, ok := m.stages[stageID]; !ok {
				return fmt.Errorf("%w: stage %s does not exist", ErrConstraint, stageID)
			}
		}

		contact.StageID = stageID

		return nil
	})
}

func (m *MemoryClient) AddTag(_ context.Context, organizationID, contactID, tag string) error {
	return m.mutate("AddTag", organizationID, contactID, func(contact *models.Contact) error {
		if !contact.HasTag(tag) {
			contact.Tags = append(contact.Tags, tag)
		}

		return nil
	})
}

func (m *MemoryClient) RemoveTag(_ context.Context, organizationID, contactID, tag string) error {
	return m.mutate("RemoveTag", organizationID, contactID, func(contact *models.Contact) error {
		contact.Tags = slices.DeleteFunc(contact.Tags, func(t string) bool { return t == tag })

		return nil
	})
}

func (m *MemoryClient) mutate(op, organizationID, contactID string, apply func(*models.Contact) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	contact, ok := m.contacts[memoryKey(organizationID, contactID)]
	if !ok || contact.Deleted {
		return &Error{Op: op, ContactID: contactID, Err: ErrNotFound}
	}

	err := apply(contact)
	if err != nil {
		return &Error{Op: op, ContactID: contactID, Err: err}
	}

	return nil
}

func cloneContact(contact *models.Contact) *models.Contact {
	c := *contact
	c.Tags = slices.Clone(contact.Tags)
	c.Fields = maps.Clone(contact.Fields)

	return &c
}
