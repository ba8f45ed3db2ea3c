package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/ticketdesk/internal/models"
)

const (
	VAPIDPublicKeySetting  = "push.vapid_public_key"
	VAPIDPrivateKeySetting = "push.vapid_private_key"
)

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "setting_key = ?", strings.TrimSpace(key)).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores value under key, replacing any previous value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}
	return nil
}

// EnsureVAPIDKeys returns the persisted VAPID key pair. When none is stored yet the supplied
// pair is saved and returned. The read and the write share a transaction so instances
// starting together settle on one pair.
func EnsureVAPIDKeys(ctx context.Context, db *gorm.DB, publicKey, privateKey string) (string, string, error) {
	if db == nil {
		return "", "", fmt.Errorf("system settings: db is nil")
	}
	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)

	var outPublic, outPrivate string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		storedPublic, err := GetSystemSetting(ctx, tx, VAPIDPublicKeySetting)
		if err != nil {
			return err
		}
		storedPrivate, err := GetSystemSetting(ctx, tx, VAPIDPrivateKeySetting)
		if err != nil {
			return err
		}
		if strings.TrimSpace(storedPublic) != "" && strings.TrimSpace(storedPrivate) != "" {
			outPublic, outPrivate = storedPublic, storedPrivate
			return nil
		}

		if publicKey == "" || privateKey == "" {
			return errors.New("system settings: vapid key pair is empty")
		}
		if err := UpsertSystemSetting(ctx, tx, VAPIDPublicKeySetting, publicKey); err != nil {
			return err
		}
		if err := UpsertSystemSetting(ctx, tx, VAPIDPrivateKeySetting, privateKey); err != nil {
			return err
		}
		outPublic, outPrivate = publicKey, privateKey
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return outPublic, outPrivate, nil
}
