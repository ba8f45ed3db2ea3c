package models

import (
	"time"

	"github.com/charlesng35/ticketdesk/internal/workflow"
)

// Profile links an authenticated identity to its role. The role is fixed at account creation.
type Profile struct {
	BaseModel

	Email string        `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Role  workflow.Role `gorm:"type:varchar(16);not null;<-:create" json:"role"`

	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// TableName pins the table name.
func (Profile) TableName() string {
	return "profiles"
}
