package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxIdentityLength = 64

// BaseModel carries the string key and timestamps of records keyed by an identity. Profiles
// use the identity provider's subject as ID; a blank subject gets a random one so seed data
// stays insertable.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate normalises the identity and stamps UTC timestamps.
func (m *BaseModel) BeforeCreate(*gorm.DB) error {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if len(m.ID) > maxIdentityLength {
		return fmt.Errorf("identity exceeds %d characters", maxIdentityLength)
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return nil
}
