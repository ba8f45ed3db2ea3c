package models

import "time"

// SystemSetting is one installation-wide key/value pair. The VAPID identity lives here so
// every instance signs pushes with the same key.
type SystemSetting struct {
	Key       string    `gorm:"column:setting_key;primaryKey;type:varchar(128)" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (SystemSetting) TableName() string {
	return "system_settings"
}
