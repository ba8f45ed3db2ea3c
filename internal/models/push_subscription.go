package models

import (
	"time"

	"gorm.io/datatypes"
)

// PushKeys holds the client encryption keys of a push descriptor.
type PushKeys struct {
	P256dh string `json:"p256dh" validate:"required,pushkey"`
	Auth   string `json:"auth" validate:"required,pushkey"`
}

// PushDescriptor is the opaque endpoint+keys bundle produced by a client's push agent.
type PushDescriptor struct {
	Endpoint       string   `json:"endpoint" validate:"required,url"`
	ExpirationTime *int64   `json:"expirationTime,omitempty"`
	Keys           PushKeys `json:"keys" validate:"required"`
}

// PushSubscription stores at most one descriptor per user. Re-registration overwrites.
type PushSubscription struct {
	UserID     string                             `gorm:"primaryKey;type:varchar(255)" json:"user_id"`
	Descriptor datatypes.JSONType[PushDescriptor] `gorm:"column:descriptor_json;not null" json:"descriptor"`
	Endpoint   string                             `gorm:"type:text;not null" json:"endpoint"`

	FailureCount  int        `gorm:"default:0" json:"-"`
	LastFailureAt *time.Time `json:"-"`
	GoneAt        *time.Time `gorm:"index" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name used by change feed filters.
func (PushSubscription) TableName() string {
	return "push_subscriptions"
}
