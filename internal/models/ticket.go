package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/workflow"
)

// Ticket is a work order raised by a requester and handled by a resolver.
// JSON names match column names so change feed rows decode straight into the struct.
type Ticket struct {
	ID               uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Title            string            `gorm:"type:varchar(200);not null" json:"title"`
	Description      string            `gorm:"type:text;not null" json:"description"`
	Category         workflow.Category `gorm:"type:varchar(16);not null;index" json:"category"`
	Priority         workflow.Priority `gorm:"type:varchar(16);not null;default:'medium'" json:"priority"`
	Status           workflow.Status   `gorm:"type:varchar(16);not null;index" json:"status"`
	Creator          string            `gorm:"type:varchar(255);not null;index;<-:create" json:"creator"`
	AssignedResolver *string           `gorm:"type:varchar(255);index" json:"assigned_resolver"`
	ResponseNote     *string           `gorm:"type:text" json:"response_note"`
	AttachmentURL    *string           `gorm:"type:text" json:"attachment_url"`
	Lat              *float64          `json:"lat"`
	Lng              *float64          `json:"lng"`
	CreatedAt        time.Time         `gorm:"index;<-:create" json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TableName pins the table name used by change feed filters.
func (Ticket) TableName() string {
	return "tickets"
}

// BeforeCreate fills defaults so every ticket starts its lifecycle as submitted.
func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.Status == "" {
		t.Status = workflow.StatusSubmitted
	}
	if t.Priority == "" {
		t.Priority = workflow.PriorityMedium
	}
	return nil
}

// State projects the fields read by the workflow state machine.
func (t *Ticket) State() workflow.State {
	state := workflow.State{Status: t.Status}
	if t.AssignedResolver != nil {
		state.AssignedResolver = *t.AssignedResolver
	}
	if t.ResponseNote != nil {
		state.ResponseNote = *t.ResponseNote
	}
	return state
}
